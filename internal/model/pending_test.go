package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPendingQueue_TwoPhase(t *testing.T) {
	q := NewPendingQueue()
	for _, id := range []string{"node:b", "node:a"} {
		if err := q.Push(PendingItem{ID: id}); err != nil {
			t.Fatalf("Push %s: %v", id, err)
		}
	}
	if err := q.Resolve("node:a", ConvertedNode{Name: "a"}); !errors.Is(err, ErrQueueOpen) {
		t.Fatalf("Resolve before Close: got %v, want ErrQueueOpen", err)
	}

	items := q.Close()
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if diff := cmp.Diff([]string{"node:a", "node:b"}, ids); diff != "" {
		t.Errorf("Close order mismatch (-want +got):\n%s", diff)
	}

	if err := q.Push(PendingItem{ID: "node:c"}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close: got %v, want ErrQueueClosed", err)
	}
	if q.Drained() {
		t.Fatal("queue drained before resolution")
	}
	if _, err := q.Results(); !errors.Is(err, ErrPendingNotDrained) {
		t.Errorf("Results before drain: got %v", err)
	}

	if err := q.Resolve("node:b", ConvertedNode{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Resolve("node:a", ConvertedNode{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Resolve("node:a", ConvertedNode{Name: "a"}); err == nil {
		t.Error("double Resolve should fail")
	}
	if err := q.Resolve("node:zzz", ConvertedNode{}); err == nil {
		t.Error("Resolve of unknown id should fail")
	}
	if !q.Drained() {
		t.Fatal("queue should be drained")
	}
	res, err := q.Results()
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Name != "a" || res[1].Name != "b" {
		t.Errorf("Results not in id order: %+v", res)
	}
}

func TestPendingQueue_EmptyDrainedAfterClose(t *testing.T) {
	q := NewPendingQueue()
	if q.Drained() {
		t.Error("open queue must not report drained")
	}
	q.Close()
	if !q.Drained() {
		t.Error("closed empty queue should be drained")
	}
}

func TestPendingQueue_DuplicateID(t *testing.T) {
	q := NewPendingQueue()
	_ = q.Push(PendingItem{ID: "x"})
	if err := q.Push(PendingItem{ID: "x"}); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestErrorClassification(t *testing.T) {
	err := fmt.Errorf("build: %w", &IRIntegrityError{Node: "n", Kind: "field", Symbol: "k"})
	if !IsIntegrity(err) {
		t.Error("wrapped IRIntegrityError not detected")
	}
	if IsParse(err) {
		t.Error("integrity error classified as parse error")
	}
	esc := &EscalationFailure{ItemID: "i", Err: errors.New("boom")}
	if !errors.Is(esc, esc.Err) {
		t.Error("EscalationFailure should unwrap to its cause")
	}
}

func TestEdgeTargets(t *testing.T) {
	e := EdgeSpec{Source: "judge", IsConditional: true, ConditionMap: []Branch{
		{Value: "end", Target: EndNode}, {Value: "think", Target: "think"}, {Value: "again", Target: "think"},
	}}
	if diff := cmp.Diff([]string{"end", "think"}, e.Targets()); diff != "" {
		t.Errorf("Targets mismatch (-want +got):\n%s", diff)
	}
	plain := EdgeSpec{Source: "a", Target: "b"}
	if diff := cmp.Diff([]string{"b"}, plain.Targets()); diff != "" {
		t.Errorf("plain Targets mismatch:\n%s", diff)
	}
}

func TestAdoptResolved_OrdersByGraph(t *testing.T) {
	res := NewExtractionResult()
	res.Graph = []GraphNode{{ID: "first"}, {ID: "second"}, {ID: "third"}}
	res.Nodes = []ConvertedNode{{Name: "third", Origin: OriginRule}, {Name: "first", Origin: OriginRule}}
	if err := res.Pending.Push(PendingItem{ID: "x:second", NodeName: "second"}); err != nil {
		t.Fatal(err)
	}
	if err := res.AdoptResolved(); !errors.Is(err, ErrPendingNotDrained) {
		t.Fatalf("AdoptResolved before drain: got %v", err)
	}
	res.Pending.Close()
	if err := res.Pending.Resolve("x:second", ConvertedNode{Name: "second", Origin: OriginAI}); err != nil {
		t.Fatal(err)
	}
	if err := res.AdoptResolved(); err != nil {
		t.Fatalf("AdoptResolved: %v", err)
	}
	var names []string
	for _, n := range res.Nodes {
		names = append(names, n.Name)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, names); diff != "" {
		t.Errorf("node order (-want +got):\n%s", diff)
	}
	if res.AICount != 1 {
		t.Errorf("AICount = %d, want 1", res.AICount)
	}
}

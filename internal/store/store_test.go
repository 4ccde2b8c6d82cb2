package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenPath_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Path = %q", s.Path())
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTest(t)
	run := &Run{
		SourcePath: "/src/weather.py",
		OutputDir:  "/out",
		Agent:      "Weather",
		Layout:     "single",
		Digest:     "00ff",
		RuleCount:  3,
		AICount:    1,
		Warnings:   []string{"router extract_router: emitted template"},
	}
	arts := []Artifact{
		{Path: "weather_openjiuwen.py", Content: "print('hi')\n", Digest: "aa"},
		{Path: "weather_report.md", Content: "# report\n", Digest: "bb"},
	}
	if err := s.SaveRun(run, arts); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" || run.CreatedAt == "" || run.Status != StatusOK {
		t.Fatalf("defaults not filled: %+v", run)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run (-want +got):\n%s", diff)
	}

	a, err := s.GetArtifact(run.ID, "weather_openjiuwen.py")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if a.Content != "print('hi')\n" || a.Digest != "aa" || a.Size != 12 {
		t.Errorf("artifact = %+v", a)
	}

	list, err := s.ListArtifacts(run.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	want := []Artifact{
		{RunID: run.ID, Path: "weather_openjiuwen.py", Digest: "aa", Size: 12},
		{RunID: run.ID, Path: "weather_report.md", Digest: "bb", Size: 9},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("artifacts (-want +got):\n%s", diff)
	}
}

func TestNotFound(t *testing.T) {
	s := openTest(t)
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun err = %v", err)
	}
	if _, err := s.LatestRun(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRun err = %v", err)
	}
	if _, err := s.GetArtifact("missing", "a.py"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetArtifact err = %v", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTest(t)
	for i, agent := range []string{"First", "Second", "Third"} {
		run := &Run{ID: agent, Agent: agent, SourcePath: "/src", OutputDir: "/out",
			CreatedAt: "2026-10-0" + string(rune('1'+i)) + "T00:00:00.000000Z"}
		if err := s.SaveRun(run, nil); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.Agent)
	}
	if diff := cmp.Diff([]string{"Third", "Second"}, names); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	all, _ := s.ListRuns(0)
	if len(all) != 3 {
		t.Errorf("ListRuns(0) = %d runs", len(all))
	}
	latest, err := s.LatestRun()
	if err != nil || latest.ID != "Third" {
		t.Errorf("LatestRun = %+v, %v", latest, err)
	}
}

func TestSaveRun_RollsBackOnFailure(t *testing.T) {
	s := openTest(t)
	if err := s.SaveRun(&Run{ID: "dup", Agent: "A"}, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	err := s.SaveRun(&Run{ID: "dup", Agent: "B"}, []Artifact{{Path: "x.py", Content: "x"}})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	list, err := s.ListArtifacts("dup")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("artifacts leaked from failed transaction: %v", list)
	}
}

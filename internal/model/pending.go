package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// PendingCategory classifies what a pending item asks to convert.
type PendingCategory string

const (
	PendingNodeBody    PendingCategory = "node_body"
	PendingConditional PendingCategory = "conditional"
	PendingToolBody    PendingCategory = "tool_body"
	PendingComplexExpr PendingCategory = "complex_expr"
)

// PendingContext is the surrounding information handed to escalation.
type PendingContext struct {
	StateFields []string `json:"state_fields"`
	Tools       []string `json:"tools"`
	// KnownOutputs are state keys the rule engine saw being written before it
	// gave up; placeholders still declare them.
	KnownOutputs []string `json:"known_outputs,omitempty"`
	KnownInputs  []string `json:"known_inputs,omitempty"`
}

// PendingItem is a conversion the rule engine could not complete.
type PendingItem struct {
	ID         string          `json:"id"`
	Category   PendingCategory `json:"category"`
	NodeName   string          `json:"node_name"`
	Function   string          `json:"function"`
	SourceText string          `json:"source_text"`
	Context    PendingContext  `json:"context"`
	Question   string          `json:"escalation_question"`
	Location   string          `json:"location"`
	Docstring  string          `json:"docstring,omitempty"`
	// Reason is the first rule failure, used in placeholder annotations.
	Reason string `json:"reason,omitempty"`
}

var (
	ErrQueueClosed       = errors.New("pending queue closed")
	ErrQueueOpen         = errors.New("pending queue still open")
	ErrPendingNotDrained = errors.New("pending items not drained")
)

// PendingQueue is a two-phase queue. Items are pushed while it is open; after
// Close no more items are accepted and each item must be resolved exactly
// once before the results can be consumed.
type PendingQueue struct {
	mu       sync.Mutex
	closed   bool
	items    []PendingItem
	resolved map[string]ConvertedNode
}

// NewPendingQueue returns an open, empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{resolved: make(map[string]ConvertedNode)}
}

// Push adds an item. IDs must be unique.
func (q *PendingQueue) Push(item PendingItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, it := range q.items {
		if it.ID == item.ID {
			return fmt.Errorf("duplicate pending item %q", item.ID)
		}
	}
	q.items = append(q.items, item)
	return nil
}

// Len returns the number of queued items.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close freezes the queue and returns its items sorted by ID. Calling Close
// more than once returns the same items.
func (q *PendingQueue) Close() []PendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].ID < q.items[j].ID })
		q.closed = true
	}
	out := make([]PendingItem, len(q.items))
	copy(out, q.items)
	return out
}

// Closed reports whether Close has been called.
func (q *PendingQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Resolve records the replacement for a pending item.
func (q *PendingQueue) Resolve(id string, node ConvertedNode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		return ErrQueueOpen
	}
	found := false
	for _, it := range q.items {
		if it.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown pending item %q", id)
	}
	if _, dup := q.resolved[id]; dup {
		return fmt.Errorf("pending item %q already resolved", id)
	}
	q.resolved[id] = node
	return nil
}

// Drained reports whether the queue is closed and every item is resolved.
// An empty queue is drained once closed.
func (q *PendingQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.resolved) == len(q.items)
}

// Results returns the resolved nodes in item ID order.
func (q *PendingQueue) Results() ([]ConvertedNode, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed || len(q.resolved) != len(q.items) {
		return nil, ErrPendingNotDrained
	}
	out := make([]ConvertedNode, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, q.resolved[it.ID])
	}
	return out, nil
}

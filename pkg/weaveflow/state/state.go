// Package state holds the mutable, serializable execution state of one
// workflow run: the variable pool, counters, accumulated outputs and the
// paused frontier. A RuntimeState is the unit of snapshot and restore.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weaveflow/weaveflow/pkg/weaveflow/vars"
)

// SnapshotVersion is the current snapshot format version.
// Increment when making breaking changes to the snapshot structure.
const SnapshotVersion = 1

// Sentinel errors for snapshot restore.
var (
	// ErrSnapshotCorrupt indicates the snapshot data could not be parsed.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrSnapshotVersion indicates an incompatible snapshot version.
	ErrSnapshotVersion = errors.New("snapshot version mismatch")
)

// RuntimeState is the mutable execution state of a single run attempt.
// It is created fresh per attempt (or restored from a snapshot) and
// mutated by the engine and by nodes through their context.
type RuntimeState struct {
	mu sync.Mutex

	pool       *vars.Pool
	steps      int
	tokens     int
	exceptions int
	outputs    map[string]any
	startedAt  time.Time
	readyLen   int

	// frontier holds, per scope ("" is the top level graph, an
	// iteration/loop node id for its body), the node ids that had not
	// completed when the run paused. satisfied holds the edge keys
	// already activated, so joins survive a pause.
	frontier  map[string][]string
	satisfied map[string][]string
}

// New creates a fresh runtime state for a new run attempt.
func New() *RuntimeState {
	return &RuntimeState{
		pool:      vars.NewPool(),
		outputs:   make(map[string]any),
		startedAt: time.Now().UTC(),
		frontier:  make(map[string][]string),
		satisfied: make(map[string][]string),
	}
}

// Pool returns the variable pool. The pool is shared for the lifetime of
// the run and must not be retained across runs.
func (s *RuntimeState) Pool() *vars.Pool {
	return s.pool
}

// IncrSteps records one completed node execution.
func (s *RuntimeState) IncrSteps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
}

// Steps returns the number of node executions so far.
func (s *RuntimeState) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// AddTokens accumulates model token usage reported by nodes.
func (s *RuntimeState) AddTokens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens += n
}

// Tokens returns the accumulated token usage.
func (s *RuntimeState) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// IncrExceptions records one node failure.
func (s *RuntimeState) IncrExceptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions++
}

// Exceptions returns the number of node failures so far.
func (s *RuntimeState) Exceptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exceptions
}

// SetOutput records a terminal output value under key. Numeric values
// are normalized the same way the pool normalizes segments, so outputs
// survive a snapshot round-trip unchanged.
func (s *RuntimeState) SetOutput(key string, value any) {
	if seg, err := vars.Infer(value); err == nil {
		value = seg.Value
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[key] = value
}

// Outputs returns a copy of the accumulated terminal outputs.
func (s *RuntimeState) Outputs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// StartedAt returns the wall-clock start time of the run attempt.
func (s *RuntimeState) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// SetReadyLen records the current ready-queue size.
func (s *RuntimeState) SetReadyLen(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyLen = n
}

// ReadyLen returns the last recorded ready-queue size.
func (s *RuntimeState) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLen
}

// SetFrontier records the unfinished node ids for a scope at pause time.
func (s *RuntimeState) SetFrontier(scope string, nodeIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(nodeIDs) == 0 {
		delete(s.frontier, scope)
		return
	}
	s.frontier[scope] = append([]string(nil), nodeIDs...)
}

// Frontier returns the paused frontier for a scope, or nil.
func (s *RuntimeState) Frontier(scope string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frontier[scope]...)
}

// SetSatisfiedEdges records the activated edge keys for a scope.
func (s *RuntimeState) SetSatisfiedEdges(scope string, keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		delete(s.satisfied, scope)
		return
	}
	s.satisfied[scope] = append([]string(nil), keys...)
}

// SatisfiedEdges returns the activated edge keys for a scope, or nil.
func (s *RuntimeState) SatisfiedEdges(scope string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.satisfied[scope]...)
}

// Paused reports whether the state carries a paused frontier.
func (s *RuntimeState) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frontier) > 0
}

// Clone returns an independent deep copy. Parallel iteration passes
// execute against clones so their writes stay confined until merged.
func (s *RuntimeState) Clone() *RuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &RuntimeState{
		pool:       s.pool.Clone(),
		steps:      s.steps,
		tokens:     s.tokens,
		exceptions: s.exceptions,
		outputs:    make(map[string]any, len(s.outputs)),
		startedAt:  s.startedAt,
		readyLen:   s.readyLen,
		frontier:   make(map[string][]string, len(s.frontier)),
		satisfied:  make(map[string][]string, len(s.satisfied)),
	}
	for k, v := range s.outputs {
		cp.outputs[k] = v
	}
	for k, v := range s.frontier {
		cp.frontier[k] = append([]string(nil), v...)
	}
	for k, v := range s.satisfied {
		cp.satisfied[k] = append([]string(nil), v...)
	}
	return cp
}

// snapshot is the serialized envelope of a RuntimeState.
type snapshot struct {
	Version    int                 `json:"version"`
	StartedAt  time.Time           `json:"started_at"`
	Steps      int                 `json:"steps"`
	Tokens     int                 `json:"tokens"`
	Exceptions int                 `json:"exceptions"`
	ReadyLen   int                 `json:"ready_len"`
	Outputs    map[string]any      `json:"outputs"`
	Frontier   map[string][]string `json:"frontier,omitempty"`
	Satisfied  map[string][]string `json:"satisfied,omitempty"`
	Pool       *vars.Pool          `json:"pool"`
}

// Dump serializes the full state to an opaque string. The result is
// self-contained: FromSnapshot reconstructs an equivalent state with
// every counter, variable and output intact.
func (s *RuntimeState) Dump() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(snapshot{
		Version:    SnapshotVersion,
		StartedAt:  s.startedAt,
		Steps:      s.steps,
		Tokens:     s.tokens,
		Exceptions: s.exceptions,
		ReadyLen:   s.readyLen,
		Outputs:    s.outputs,
		Frontier:   s.frontier,
		Satisfied:  s.satisfied,
		Pool:       s.pool,
	})
	if err != nil {
		return "", fmt.Errorf("dump state: %w", err)
	}
	return string(b), nil
}

// FromSnapshot reconstructs a RuntimeState from a Dump() result.
// Malformed data and version mismatches are fatal to the caller
// attempting resume, never silently ignored.
func FromSnapshot(data string) (*RuntimeState, error) {
	var snap snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrSnapshotVersion, snap.Version, SnapshotVersion)
	}
	if snap.Pool == nil {
		return nil, fmt.Errorf("%w: missing variable pool", ErrSnapshotCorrupt)
	}

	st := &RuntimeState{
		pool:       snap.Pool,
		steps:      snap.Steps,
		tokens:     snap.Tokens,
		exceptions: snap.Exceptions,
		readyLen:   snap.ReadyLen,
		outputs:    snap.Outputs,
		startedAt:  snap.StartedAt,
		frontier:   snap.Frontier,
		satisfied:  snap.Satisfied,
	}
	if st.outputs == nil {
		st.outputs = make(map[string]any)
	}
	if st.frontier == nil {
		st.frontier = make(map[string][]string)
	}
	if st.satisfied == nil {
		st.satisfied = make(map[string][]string)
	}
	// Outputs pass through encoding/json once; normalize eagerly so a
	// restored state compares equal to the original.
	for k, v := range st.outputs {
		seg, err := vars.Infer(v)
		if err == nil {
			st.outputs[k] = seg.Value
		}
	}
	return st, nil
}

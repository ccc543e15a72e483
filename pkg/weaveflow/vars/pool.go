package vars

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Reserved producer ids. Variables under these ids are provided by the
// caller rather than produced by a node.
const (
	SystemNodeID       = "sys"
	EnvironmentNodeID  = "env"
	ConversationNodeID = "conv"
)

// Pool maps (producer node id, variable name) to a Segment.
// It is the single source of truth for data flowing between nodes
// during one run, and is owned by that run's RuntimeState.
type Pool struct {
	mu   sync.RWMutex
	byID map[string]map[string]Segment
}

// NewPool creates an empty variable pool.
func NewPool() *Pool {
	return &Pool{byID: make(map[string]map[string]Segment)}
}

// Add binds a value under (nodeID, name), inferring its segment type.
// An existing binding at the same key is overwritten.
func (p *Pool) Add(nodeID, name string, value any) error {
	seg, err := Infer(value)
	if err != nil {
		return err
	}
	p.AddSegment(nodeID, name, seg)
	return nil
}

// AddSegment binds an already constructed segment under (nodeID, name).
func (p *Pool) AddSegment(nodeID, name string, seg Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.byID[nodeID] == nil {
		p.byID[nodeID] = make(map[string]Segment)
	}
	p.byID[nodeID][name] = seg
}

// Get returns the segment bound at (nodeID, name).
// Absence is reported through the boolean, never as an error.
func (p *Pool) Get(nodeID, name string) (Segment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seg, ok := p.byID[nodeID][name]
	return seg, ok
}

// GetAllByNode returns a copy of every variable produced by one node.
func (p *Pool) GetAllByNode(nodeID string) map[string]Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Segment, len(p.byID[nodeID]))
	for name, seg := range p.byID[nodeID] {
		out[name] = seg
	}
	return out
}

// GetByPrefix returns all variables whose producer id starts with prefix,
// keyed by producer id then variable name.
func (p *Pool) GetByPrefix(prefix string) map[string]map[string]Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]map[string]Segment)
	for nodeID, byName := range p.byID {
		if !strings.HasPrefix(nodeID, prefix) {
			continue
		}
		cp := make(map[string]Segment, len(byName))
		for name, seg := range byName {
			cp[name] = seg
		}
		out[nodeID] = cp
	}
	return out
}

// RemoveNodes removes every variable produced by the given node ids,
// keeping variables of any id listed in exempt. Used by iteration and
// loop nodes to clear body-produced values between passes.
func (p *Pool) RemoveNodes(nodeIDs []string, exempt ...string) {
	keep := make(map[string]bool, len(exempt))
	for _, id := range exempt {
		keep[id] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range nodeIDs {
		if keep[id] {
			continue
		}
		delete(p.byID, id)
	}
}

// NodeIDs returns the producer ids currently present, sorted.
func (p *Pool) NodeIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of bound variables.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, byName := range p.byID {
		n += len(byName)
	}
	return n
}

// Clone returns a deep copy of the pool. Parallel iteration passes run
// against clones so their writes stay confined until the pass completes.
func (p *Pool) Clone() *Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cp := NewPool()
	for nodeID, byName := range p.byID {
		inner := make(map[string]Segment, len(byName))
		for name, seg := range byName {
			inner[name] = seg
		}
		cp.byID[nodeID] = inner
	}
	return cp
}

// MarshalJSON implements json.Marshaler.
func (p *Pool) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return json.Marshal(p.byID)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pool) UnmarshalJSON(data []byte) error {
	byID := make(map[string]map[string]Segment)
	if err := json.Unmarshal(data, &byID); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = byID
	return nil
}

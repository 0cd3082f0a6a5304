package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// RecordKind says how a PermissionRecord matches future calls.
type RecordKind string

const (
	RecordExact  RecordKind = "exact"
	RecordPrefix RecordKind = "prefix"
)

// Record is one previously approved (tool, argument-pattern) pair.
type Record struct {
	Tool string     `json:"tool"`
	Kind RecordKind `json:"kind"`
	// Args holds canonical JSON arguments for exact records.
	Args string `json:"args,omitempty"`
	// Prefix holds the command prefix for prefix records.
	Prefix    string    `json:"prefix,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the PermissionRecord store consulted by the confirmation gate.
type Store interface {
	// IsAllowed reports whether a call passes without confirmation: an
	// exact-argument record, the safe-command allow-list, or an approved
	// command prefix.
	IsAllowed(tool string, args json.RawMessage) (bool, error)

	// Remember persists approval of a call. With asPrefix, shell calls are
	// recorded by derived command prefix; other calls fall back to exact.
	Remember(tool string, args json.RawMessage, asPrefix bool) (Record, error)

	// Records returns every stored record.
	Records() ([]Record, error)
}

// DefaultShellTools names the tools whose "command" argument is a shell
// command line.
var DefaultShellTools = []string{"shell"}

// rules implements matching over an in-memory record list.
type rules struct {
	mu         sync.RWMutex
	records    []Record
	shellTools map[string]bool
}

func newRules(shellTools []string) *rules {
	if len(shellTools) == 0 {
		shellTools = DefaultShellTools
	}
	r := &rules{shellTools: make(map[string]bool, len(shellTools))}
	for _, name := range shellTools {
		r.shellTools[name] = true
	}
	return r
}

// Canonicalize re-encodes args with sorted keys and no insignificant
// whitespace, so equal arguments compare equal.
func Canonicalize(args json.RawMessage) string {
	if len(bytes.TrimSpace(args)) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return string(args)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(args)
	}
	return string(out)
}

func (r *rules) isAllowed(tool string, args json.RawMessage) bool {
	canonical := Canonicalize(args)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.Kind == RecordExact && rec.Tool == tool && rec.Args == canonical {
			return true
		}
	}

	if !r.shellTools[tool] {
		return false
	}
	cmd, ok := CommandFromArgs(args)
	if !ok {
		return false
	}
	p := parse(cmd)
	if p.hazardous || len(p.segments) == 0 {
		return false
	}
	for _, words := range p.segments {
		if safeSegment(words) || r.prefixApproved(tool, words) {
			continue
		}
		return false
	}
	return true
}

func (r *rules) prefixApproved(tool string, words []string) bool {
	for _, rec := range r.records {
		if rec.Kind == RecordPrefix && rec.Tool == tool && matchesPrefix(words, rec.Prefix) {
			return true
		}
	}
	return false
}

// record builds the Record that Remember would store.
func (r *rules) record(tool string, args json.RawMessage, asPrefix bool) (Record, error) {
	if tool == "" {
		return Record{}, fmt.Errorf("permission: tool name is required")
	}
	rec := Record{Tool: tool, Kind: RecordExact, Args: Canonicalize(args), CreatedAt: time.Now().UTC()}
	if asPrefix && r.shellTools[tool] {
		if cmd, ok := CommandFromArgs(args); ok {
			if prefix := CommandPrefix(cmd); prefix != "" {
				rec = Record{Tool: tool, Kind: RecordPrefix, Prefix: prefix, CreatedAt: rec.CreatedAt}
			}
		}
	}
	return rec, nil
}

// add appends rec unless an equivalent record exists. It reports whether
// the list changed.
func (r *rules) add(rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.Tool == rec.Tool && existing.Kind == rec.Kind && existing.Args == rec.Args && existing.Prefix == rec.Prefix {
			return false
		}
	}
	r.records = append(r.records, rec)
	return true
}

func (r *rules) snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	rules *rules
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. shellTools overrides
// DefaultShellTools when given.
func NewMemoryStore(shellTools ...string) *MemoryStore {
	return &MemoryStore{rules: newRules(shellTools)}
}

func (s *MemoryStore) IsAllowed(tool string, args json.RawMessage) (bool, error) {
	return s.rules.isAllowed(tool, args), nil
}

func (s *MemoryStore) Remember(tool string, args json.RawMessage, asPrefix bool) (Record, error) {
	rec, err := s.rules.record(tool, args, asPrefix)
	if err != nil {
		return Record{}, err
	}
	s.rules.add(rec)
	return rec, nil
}

func (s *MemoryStore) Records() ([]Record, error) {
	return s.rules.snapshot(), nil
}

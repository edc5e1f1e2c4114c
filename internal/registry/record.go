package registry

import (
	"encoding/json"
	"fmt"

	"github.com/forgelab/forge/internal/allocator"
)

// Record is one slot's allocation: the backend/frontend port pair reserved
// for it, the directory of the generated application it belongs to, the
// command that starts it, and the PID of the child currently owning it
// (0 when none). Ports never change for the life of the slot.
type Record struct {
	Backend  int    `json:"backend"`
	Frontend int    `json:"frontend"`
	PID      int    `json:"pid,omitempty"`
	Dir      string `json:"dir,omitempty"`
	Command  string `json:"command,omitempty"`
}

// Registry is the full collection of slot records, keyed by slot name. It is
// the unit of persistence; mutation must happen inside Store.WithLock.
type Registry struct {
	Apps map[string]*Record `json:"apps"`

	// extra carries unknown top-level fields through a load/save cycle so a
	// newer tool version's registry survives being touched by an older one.
	extra map[string]json.RawMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Apps: make(map[string]*Record)}
}

// UnmarshalJSON accepts any object shape, keeping non-"apps" fields opaque.
func (r *Registry) UnmarshalJSON(b []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	apps := make(map[string]*Record)
	if a, ok := raw["apps"]; ok {
		if err := json.Unmarshal(a, &apps); err != nil {
			return err
		}
		delete(raw, "apps")
	}
	r.Apps = apps
	r.extra = raw
	return nil
}

// MarshalJSON writes "apps" plus any fields preserved from load.
func (r *Registry) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.extra)+1)
	for k, v := range r.extra {
		out[k] = v
	}
	out["apps"] = r.Apps
	return json.Marshal(out)
}

// Clone returns an independent deep copy, including fields preserved from
// load, so callers can mutate the copy without touching the original.
func (r *Registry) Clone() *Registry {
	cp := NewRegistry()
	for name, rec := range r.Apps {
		c := *rec
		cp.Apps[name] = &c
	}
	if len(r.extra) > 0 {
		cp.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			cp.extra[k] = v
		}
	}
	return cp
}

// ReservedPorts returns every port currently held by a record. The caller
// merges in the tool's own fixed ports via the Allocator's reserved set.
func (r *Registry) ReservedPorts() map[int]struct{} {
	ports := make(map[int]struct{}, len(r.Apps)*2)
	for _, rec := range r.Apps {
		if rec.Backend > 0 {
			ports[rec.Backend] = struct{}{}
		}
		if rec.Frontend > 0 {
			ports[rec.Frontend] = struct{}{}
		}
	}
	return ports
}

// Ensure returns the record for name, creating it when absent. On creation
// the requested backend/frontend ports are honored when valid (inside the
// range, not reserved, not held by another slot, mutually distinct); zero or
// invalid requests fall back to allocation. Dir and command are refreshed on
// every call so a regenerated app picks up its new start command without
// losing its ports.
func (r *Registry) Ensure(alloc allocator.Allocator, name, dir, command string, backend, frontend int) (Record, error) {
	if name == "" {
		return Record{}, fmt.Errorf("slot name required")
	}
	if existing, ok := r.Apps[name]; ok {
		if dir != "" {
			existing.Dir = dir
		}
		if command != "" {
			existing.Command = command
		}
		return *existing, nil
	}

	excluded := r.ReservedPorts()
	if !alloc.Usable(backend, excluded) {
		p, err := alloc.Pick(excluded)
		if err != nil {
			return Record{}, fmt.Errorf("allocate backend port for %s: %w", name, err)
		}
		backend = p
	}
	excluded[backend] = struct{}{}
	if !alloc.Usable(frontend, excluded) {
		p, err := alloc.Pick(excluded)
		if err != nil {
			return Record{}, fmt.Errorf("allocate frontend port for %s: %w", name, err)
		}
		frontend = p
	}

	rec := &Record{Backend: backend, Frontend: frontend, Dir: dir, Command: command}
	r.Apps[name] = rec
	return *rec, nil
}

// SetOwner records pid as the process owning the named slot.
func (r *Registry) SetOwner(name string, pid int) error {
	rec, ok := r.Apps[name]
	if !ok {
		return fmt.Errorf("unknown slot %q", name)
	}
	rec.PID = pid
	return nil
}

// ClearOwner forgets the owning PID of the named slot. Clearing an unknown
// slot is a no-op; the record may have been garbage collected meanwhile.
func (r *Registry) ClearOwner(name string) {
	if rec, ok := r.Apps[name]; ok {
		rec.PID = 0
	}
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (Record, bool) {
	rec, ok := r.Apps[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

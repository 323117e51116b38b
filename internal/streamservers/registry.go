package streamservers

import (
	"encoding/json"
	"fmt"
	"sort"

	"streamguard/internal/core/domain"
	"streamguard/pkg/validation"
)

// Entry is one named, configured backend plus its scene routing.
type Entry struct {
	StreamServer StreamServer `json:"streamServer" yaml:"streamServer"`
	// Name tells entries apart; it is expected to be unique.
	Name     string `json:"name" yaml:"name"`
	Priority *int   `json:"priority,omitempty" yaml:"priority,omitempty"`
	// OverrideScenes replaces the default scenes for this entry.
	OverrideScenes *domain.SwitchingScenes `json:"overrideScenes,omitempty" yaml:"overrideScenes,omitempty"`
	DependsOn      *DependsOn              `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Enabled        bool                    `json:"enabled" yaml:"enabled"`
}

// DependsOn points at another entry by name, with the scenes to use while
// falling back to it.
type DependsOn struct {
	Name         string                 `json:"name" yaml:"name"`
	BackupScenes domain.SwitchingScenes `json:"backupScenes" yaml:"backupScenes"`
}

type entryFields Entry

// UnmarshalJSON defaults Enabled to true when the field is absent.
func (e *Entry) UnmarshalJSON(data []byte) error {
	fields := entryFields{Enabled: true}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = Entry(fields)
	return nil
}

// UnmarshalYAML defaults Enabled to true when the field is absent.
func (e *Entry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	fields := entryFields{Enabled: true}
	if err := unmarshal(&fields); err != nil {
		return err
	}
	*e = Entry(fields)
	return nil
}

// Scenes returns the override scenes, or defaults when none are set.
func (e *Entry) Scenes(defaults domain.SwitchingScenes) domain.SwitchingScenes {
	if e.OverrideScenes != nil {
		return *e.OverrideScenes
	}
	return defaults
}

func (e *Entry) Validate() error {
	if err := validation.ValidateServerName(e.Name); err != nil {
		return err
	}
	if err := e.StreamServer.Validate(); err != nil {
		return fmt.Errorf("stream server %q: %w", e.Name, err)
	}
	return nil
}

// Registry is the ordered set of configured entries.
type Registry struct {
	entries []*Entry
}

func NewRegistry(entries []Entry) *Registry {
	r := &Registry{entries: make([]*Entry, 0, len(entries))}
	for i := range entries {
		e := entries[i]
		r.entries = append(r.entries, &e)
	}
	return r
}

// Entries returns every entry in configuration order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup returns the first entry with the given name.
func (r *Registry) Lookup(name string) (*Entry, error) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrServerNotFound, name)
}

// Enabled returns the enabled entries ordered by ascending priority.
// Entries without a priority come last; ties keep configuration order.
func (r *Registry) Enabled() []*Entry {
	var out []*Entry
	for _, e := range r.entries {
		if e.Enabled {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Priority, out[j].Priority
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// Attach hands deps to every backend. Each backend gets a logger scoped to
// its entry name.
func (r *Registry) Attach(deps Deps) {
	for _, e := range r.entries {
		d := deps
		if d.Logger != nil {
			d.Logger = d.Logger.With("server", e.Name, "kind", e.StreamServer.Kind())
		}
		e.StreamServer.Attach(d)
	}
}

// Dangling lists dependsOn names that match no entry. They are reported,
// not rejected.
func (r *Registry) Dangling() []string {
	names := make(map[string]struct{}, len(r.entries))
	for _, e := range r.entries {
		names[e.Name] = struct{}{}
	}

	var dangling []string
	for _, e := range r.entries {
		if e.DependsOn == nil {
			continue
		}
		if _, ok := names[e.DependsOn.Name]; !ok {
			dangling = append(dangling, e.DependsOn.Name)
		}
	}
	return dangling
}

func (r *Registry) Validate() error {
	for _, e := range r.entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

package directory

import (
	"encoding/json"
	"maps"
)

// Component is the renderable value an application's script registers.
// The directory never looks inside it.
type Component any

type Icon struct {
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Manifest describes one application. It is progressively enriched: first
// the fetched manifest, then its icon, then the component its script
// registers.
type Manifest struct {
	Key         string         `json:"key"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Icon        *Icon          `json:"icon,omitempty"`
	Component   Component      `json:"-"`
	Extra       map[string]any `json:"-"`
}

// Ready reports whether the manifest has a renderable component.
func (m Manifest) Ready() bool { return m.Component != nil }

var knownFields = []string{"key", "name", "description", "version", "icon"}

// UnmarshalJSON keeps fields it does not model in Extra.
func (m *Manifest) UnmarshalJSON(b []byte) error {
	type plain Manifest
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*m = Manifest(p)
	return nil
}

// MarshalJSON flattens Extra next to the known fields.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	b, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return b, err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, known := all[k]; !known {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

func (m Manifest) clone() Manifest {
	out := m
	if m.Icon != nil {
		icon := *m.Icon
		out.Icon = &icon
	}
	out.Extra = maps.Clone(m.Extra)
	return out
}

// merge overlays upd onto old. Fields set in upd win, zero fields keep the
// old value, Extra is merged key by key. Nothing deeper is merged.
func merge(old, upd Manifest) Manifest {
	out := old.clone()
	if upd.Name != "" {
		out.Name = upd.Name
	}
	if upd.Description != "" {
		out.Description = upd.Description
	}
	if upd.Version != "" {
		out.Version = upd.Version
	}
	if upd.Icon != nil {
		icon := *upd.Icon
		out.Icon = &icon
	}
	if upd.Component != nil {
		out.Component = upd.Component
	}
	if len(upd.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(upd.Extra))
		}
		maps.Copy(out.Extra, upd.Extra)
	}
	return out
}

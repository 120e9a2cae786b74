package strategy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry serves style profiles, optionally overridden from a YAML file.
//
// The file format mirrors Profile, keyed by style name; omitted fields keep their built-in value:
//
//	styles:
//	  SWING:
//	    thresholds: {strong_buy: 78, buy: 68, watch: 52}
type Registry struct {
	mu       sync.RWMutex
	profiles map[TradingStyle]Profile
}

type overrideFile struct {
	Styles map[string]yaml.Node `yaml:"styles"`
}

// NewRegistry returns a registry holding the built-in tables.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[TradingStyle]Profile, len(defaultProfiles))}
	for style, p := range defaultProfiles {
		r.profiles[style] = p.clone()
	}
	return r
}

// LoadRegistry builds a registry and applies overrides from path when it is non-empty.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	if err := r.ApplyYAML(data); err != nil {
		return nil, err
	}
	return r, nil
}

// ApplyYAML merges overrides and validates every touched profile. Nothing is applied on error.
func (r *Registry) ApplyYAML(data []byte) error {
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse strategy file: %w", err)
	}

	r.mu.RLock()
	staged := make(map[TradingStyle]Profile, len(file.Styles))
	for name, node := range file.Styles {
		style, err := ParseStyle(name)
		if err != nil {
			r.mu.RUnlock()
			return err
		}
		p := r.profiles[style].clone()
		if err := node.Decode(&p); err != nil {
			r.mu.RUnlock()
			return fmt.Errorf("decode %s profile: %w", style, err)
		}
		p.Style = style
		if err := p.Validate(); err != nil {
			r.mu.RUnlock()
			return err
		}
		staged[style] = p
	}
	r.mu.RUnlock()

	r.mu.Lock()
	for style, p := range staged {
		r.profiles[style] = p
	}
	r.mu.Unlock()
	return nil
}

// Profile returns a copy of the active profile for style.
func (r *Registry) Profile(style TradingStyle) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[style]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}
	return p.clone(), nil
}

// Validate checks all active profiles.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, style := range Styles() {
		if err := r.profiles[style].Validate(); err != nil {
			return err
		}
	}
	return nil
}

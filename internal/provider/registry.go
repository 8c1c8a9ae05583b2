package provider

import (
	"fmt"
	"strings"

	"lootforge/internal/config"
	"lootforge/internal/contract"
	"lootforge/internal/manifest"
)

// DefaultOrder is the declared provider preference. Auto-selection
// walks it in order and takes the first provider that satisfies a
// target's required features.
var DefaultOrder = []string{ProviderOpenAI, ProviderNano, ProviderLocal}

// Registry owns the configured adapters and resolves routes for
// planned targets.
type Registry struct {
	providers map[string]Provider
	settings  map[string]Settings
	order     []string
}

// NewRegistry builds the built-in adapters, layering manifest provider
// blocks and file/env configuration over each adapter's defaults.
func NewRegistry(cfg *config.Config, manifestProviders map[string]manifest.ProviderSettings) *Registry {
	r := &Registry{
		providers: make(map[string]Provider, len(DefaultOrder)),
		settings:  make(map[string]Settings, len(DefaultOrder)),
		order:     DefaultOrder,
	}
	for _, name := range r.order {
		var mset *manifest.ProviderSettings
		if ms, ok := manifestProviders[name]; ok {
			mset = &ms
		}
		var pcfg config.ProviderConfig
		var limits config.LimitsConfig
		if cfg != nil {
			pcfg = cfg.Provider(name)
			limits = cfg.Limits
		}
		switch name {
		case ProviderOpenAI:
			s := resolveSettings(openaiDefaults, openaiCapabilities, mset, pcfg, limits)
			r.providers[name] = NewOpenAIClient(s)
			r.settings[name] = s
		case ProviderNano:
			s := resolveSettings(nanoDefaults, nanoCapabilities, mset, pcfg, limits)
			r.providers[name] = NewNanoClient(s)
			r.settings[name] = s
		case ProviderLocal:
			s := resolveSettings(localDefaults, localCapabilities, mset, pcfg, limits)
			r.providers[name] = NewLocalClient(s)
			r.settings[name] = s
		}
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (valid: %s)", name, strings.Join(r.order, ", "))
	}
	return p, nil
}

// Settings returns the resolved settings for a provider.
func (r *Registry) Settings(name string) (Settings, error) {
	s, ok := r.settings[name]
	if !ok {
		return Settings{}, fmt.Errorf("unknown provider %q (valid: %s)", name, strings.Join(r.order, ", "))
	}
	return s, nil
}

// Names lists the registered providers in declared order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Known reports whether name is a registered provider.
func (r *Registry) Known(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Supports reports whether the named provider satisfies every feature.
// Unknown providers satisfy nothing.
func (r *Registry) Supports(name string, feats ...Feature) bool {
	p, ok := r.providers[name]
	if !ok {
		return false
	}
	for _, f := range feats {
		if !p.Supports(f) {
			return false
		}
	}
	return true
}

// Route is the provider order the orchestrator walks for one target.
type Route struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
}

// RequiredFeatures lists the capabilities a target cannot do without.
func RequiredFeatures(t contract.PlannedTarget) []Feature {
	var feats []Feature
	if t.GenerationPolicy.Background == "transparent" {
		feats = append(feats, FeatureTransparentBackground)
	}
	if t.GenerationPolicy.GenerationMode == "edit-first" {
		feats = append(feats, FeatureImageEdits)
	}
	return feats
}

// Route resolves the provider order for a target. An explicit target
// provider wins even when a fallback could serve the target better;
// with no explicit provider the first adapter in declared order that
// satisfies the target's required features is chosen. Fallbacks keep
// their authored order, dropping the primary, duplicates, unknown
// names, and providers that cannot satisfy the target.
func (r *Registry) Route(t contract.PlannedTarget) (Route, error) {
	feats := RequiredFeatures(t)
	primary := t.Provider
	if primary == "" {
		for _, name := range r.order {
			if r.Supports(name, feats...) {
				primary = name
				break
			}
		}
		if primary == "" {
			return Route{}, fmt.Errorf("no provider supports target %s (needs %s)", t.Id, featureList(feats))
		}
	} else if !r.Known(primary) {
		return Route{}, fmt.Errorf("unknown provider %q for target %s", primary, t.Id)
	}

	route := Route{Primary: primary, Fallbacks: []string{}}
	seen := map[string]bool{primary: true}
	for _, name := range t.GenerationPolicy.FallbackProviders {
		if seen[name] || !r.Supports(name, feats...) {
			continue
		}
		seen[name] = true
		route.Fallbacks = append(route.Fallbacks, name)
	}
	return route, nil
}

func featureList(feats []Feature) string {
	if len(feats) == 0 {
		return string(FeatureImageGeneration)
	}
	names := make([]string, len(feats))
	for i, f := range feats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Package identity holds the fingerprint pool a render session draws its
// client-presented signals from.
package identity

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/use-agent/harvest/policy"
	"gopkg.in/yaml.v3"
)

//go:embed identities.yaml
var defaultPoolYAML []byte

//go:embed navigator.js
var navigatorJS string

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Identity is the bundle of signals one session presents. It is chosen once
// per session and never mutated afterwards.
type Identity struct {
	UserAgent        string            `yaml:"user_agent"`
	Viewport         Viewport          `yaml:"viewport"`
	AcceptLanguage   string            `yaml:"accept_language"`
	Locale           string            `yaml:"locale"`
	Timezone         string            `yaml:"timezone"`
	Headers          map[string]string `yaml:"headers"`
	InitScripts      []string          `yaml:"init_scripts"`
	BlockedResources []string          `yaml:"blocked_resources"`
}

// poolFile is the on-disk layout: shared defaults plus per-identity overrides.
type poolFile struct {
	Defaults   Identity   `yaml:"defaults"`
	Identities []Identity `yaml:"identities"`
}

// Pool is a fixed, non-empty list of identities.
type Pool struct {
	identities []Identity
}

// Default returns the embedded pool.
func Default() (*Pool, error) {
	return Parse(defaultPoolYAML)
}

// Load reads a pool from a YAML file. An empty path yields the embedded pool.
func Load(path string) (*Pool, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read pool: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pool document. Fields missing on an identity are filled
// from the document defaults, and the built-in navigator script always runs
// before any configured init script.
func Parse(data []byte) (*Pool, error) {
	var pf poolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("identity: decode pool: %w", err)
	}
	if len(pf.Identities) == 0 {
		return nil, errors.New("identity: pool has no identities")
	}

	out := make([]Identity, 0, len(pf.Identities))
	for i, id := range pf.Identities {
		merged := merge(pf.Defaults, id)
		if merged.UserAgent == "" {
			return nil, fmt.Errorf("identity: entry %d has no user_agent", i)
		}
		out = append(out, merged)
	}
	return &Pool{identities: out}, nil
}

// NewPool builds a pool from literal identities, mostly for tests.
func NewPool(ids ...Identity) *Pool {
	return &Pool{identities: append([]Identity(nil), ids...)}
}

// Len returns the pool size.
func (p *Pool) Len() int { return len(p.identities) }

// Pick draws one identity. Repeats across draws are allowed.
func (p *Pool) Pick(pol policy.Policy) Identity {
	id := p.identities[pol.Pick(len(p.identities))]
	id.Headers = cloneMap(id.Headers)
	id.InitScripts = append([]string(nil), id.InitScripts...)
	id.BlockedResources = append([]string(nil), id.BlockedResources...)
	return id
}

func merge(def, id Identity) Identity {
	if id.Viewport.Width == 0 || id.Viewport.Height == 0 {
		id.Viewport = def.Viewport
	}
	if id.AcceptLanguage == "" {
		id.AcceptLanguage = def.AcceptLanguage
	}
	if id.Locale == "" {
		id.Locale = def.Locale
	}
	if id.Timezone == "" {
		id.Timezone = def.Timezone
	}
	headers := cloneMap(def.Headers)
	for k, v := range id.Headers {
		headers[k] = v
	}
	if id.AcceptLanguage != "" {
		headers["Accept-Language"] = id.AcceptLanguage
	}
	id.Headers = headers
	if len(id.BlockedResources) == 0 {
		id.BlockedResources = append([]string(nil), def.BlockedResources...)
	}

	scripts := []string{navigatorJS}
	scripts = append(scripts, def.InitScripts...)
	id.InitScripts = append(scripts, id.InitScripts...)
	return id
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

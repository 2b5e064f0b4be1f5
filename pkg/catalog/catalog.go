// Package catalog holds the static description of every LLM provider the
// client can talk to: wire schema, base URL, credential placement, extra
// headers and the models with their prices.
//
// Descriptors are immutable after loading. Provider-specific behaviour is
// expressed as data here so the rest of the module never compares provider ids.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/germanamz/illias/pkg/cost"
)

// Schema names the request/response shape a provider speaks.
type Schema string

const (
	// SchemaOpenAI is the chat-completions message-array shape.
	SchemaOpenAI Schema = "openai"
	// SchemaGemini is the generateContent contents/parts shape.
	SchemaGemini Schema = "gemini"
	// SchemaAnthropic is the Messages API shape.
	SchemaAnthropic Schema = "anthropic"
)

var (
	// ErrNotFound is wrapped by every lookup failure.
	ErrNotFound = errors.New("catalog: not found")
	// ErrProviderNotFound is returned for an unknown provider id.
	ErrProviderNotFound = fmt.Errorf("%w: provider", ErrNotFound)
	// ErrModelNotFound is returned for a model id the provider does not list.
	ErrModelNotFound = fmt.Errorf("%w: model", ErrNotFound)
)

// AuthPlacement describes where the credential goes on outgoing requests.
type AuthPlacement struct {
	Header string `json:"header,omitempty"` // Header name; empty means Authorization.
	Scheme string `json:"scheme,omitempty"` // Value prefix, e.g. "Bearer".
	Query  string `json:"query,omitempty"`  // Query parameter name; overrides Header.
}

// ModelDescriptor describes one selectable model.
type ModelDescriptor struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Rates       cost.Rates `json:"rates"`
}

// HeaderContext carries the values extra header templates may reference.
type HeaderContext struct {
	Referer  string
	AppTitle string
}

// ProviderDescriptor describes one provider.
type ProviderDescriptor struct {
	ID             string            `json:"id"`
	Label          string            `json:"label"`
	Schema         Schema            `json:"schema"`
	BaseURL        string            `json:"base_url"`
	Auth           AuthPlacement     `json:"auth"`
	KeyHint        string            `json:"key_hint,omitempty"`
	KeyPlaceholder string            `json:"key_placeholder,omitempty"`
	KeyEnv         string            `json:"key_env,omitempty"`
	Headers        map[string]string `json:"-"`
	Models         []ModelDescriptor `json:"models"`
}

// DefaultModel returns the first listed model.
func (p ProviderDescriptor) DefaultModel() ModelDescriptor {
	if len(p.Models) == 0 {
		return ModelDescriptor{}
	}
	return p.Models[0]
}

// Model finds a model by id.
func (p ProviderDescriptor) Model(id string) (ModelDescriptor, bool) {
	i := slices.IndexFunc(p.Models, func(m ModelDescriptor) bool { return m.ID == id })
	if i < 0 {
		return ModelDescriptor{}, false
	}
	return p.Models[i], true
}

// ExtraHeaders expands the provider's header templates. ${referer} and
// ${app_title} are substituted from hc; headers that expand to an empty value
// are omitted. The result is nil when the provider declares no headers.
func (p ProviderDescriptor) ExtraHeaders(hc HeaderContext) map[string]string {
	if len(p.Headers) == 0 {
		return nil
	}

	out := make(map[string]string, len(p.Headers))
	for k, tmpl := range p.Headers {
		v := os.Expand(tmpl, func(name string) string {
			switch name {
			case "referer":
				return hc.Referer
			case "app_title":
				return hc.AppTitle
			default:
				return ""
			}
		})
		if v != "" {
			out[k] = v
		}
	}

	return out
}

// clone copies the models and headers so callers cannot reach the catalog's.
func (p ProviderDescriptor) clone() ProviderDescriptor {
	p.Models = slices.Clone(p.Models)
	p.Headers = maps.Clone(p.Headers)
	return p
}

// Catalog is an ordered, read-only set of providers.
type Catalog struct {
	providers []ProviderDescriptor
	index     map[string]int
}

// New builds a catalog from already-validated descriptors. Duplicate provider
// ids are rejected.
func New(providers ...ProviderDescriptor) (*Catalog, error) {
	c := &Catalog{
		providers: make([]ProviderDescriptor, len(providers)),
		index:     make(map[string]int, len(providers)),
	}

	for i, p := range providers {
		c.providers[i] = p.clone()
		if _, dup := c.index[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate provider %q", p.ID)
		}
		c.index[p.ID] = i
	}

	return c, nil
}

// Providers returns copies of the descriptors in catalog order.
func (c *Catalog) Providers() []ProviderDescriptor {
	out := make([]ProviderDescriptor, len(c.providers))
	for i, p := range c.providers {
		out[i] = p.clone()
	}
	return out
}

// Provider looks up a provider by id.
func (c *Catalog) Provider(id string) (ProviderDescriptor, error) {
	i, ok := c.index[id]
	if !ok {
		return ProviderDescriptor{}, fmt.Errorf("%w %q", ErrProviderNotFound, id)
	}
	return c.providers[i].clone(), nil
}

// Model looks up a model of a provider.
func (c *Catalog) Model(providerID, modelID string) (ModelDescriptor, error) {
	p, err := c.Provider(providerID)
	if err != nil {
		return ModelDescriptor{}, err
	}

	m, ok := p.Model(modelID)
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w %q for provider %q", ErrModelNotFound, modelID, providerID)
	}
	return m, nil
}

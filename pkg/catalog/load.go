package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/validate"
)

//go:embed default.yaml
var defaultCatalog []byte

// file is the on-disk catalog layout. Prices are advertised in USD per
// million tokens and converted to per-token rates by Parse.
type file struct {
	Providers []fileProvider `yaml:"providers" validate:"required,min=1,unique=ID,dive"`
}

type fileProvider struct {
	ID             string            `yaml:"id" validate:"required"`
	Label          string            `yaml:"label" validate:"required"`
	Schema         Schema            `yaml:"schema" validate:"required,oneof=openai gemini anthropic"`
	BaseURL        string            `yaml:"base_url" validate:"required,http_url"`
	Auth           fileAuth          `yaml:"auth"`
	KeyHint        string            `yaml:"key_hint"`
	KeyPlaceholder string            `yaml:"key_placeholder"`
	KeyEnv         string            `yaml:"key_env"`
	Headers        map[string]string `yaml:"headers"`
	Models         []fileModel       `yaml:"models" validate:"required,min=1,unique=ID,dive"`
}

type fileAuth struct {
	Header string `yaml:"header"`
	Scheme string `yaml:"scheme"`
	Query  string `yaml:"query"`
}

type fileModel struct {
	ID          string  `yaml:"id" validate:"required"`
	Label       string  `yaml:"label"`
	Description string  `yaml:"description"`
	Input       float64 `yaml:"input_per_million" validate:"gte=0"`
	Output      float64 `yaml:"output_per_million" validate:"gte=0"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("catalog: invalid: %w", err)
	}

	providers := make([]ProviderDescriptor, len(f.Providers))
	for i, fp := range f.Providers {
		providers[i] = fp.descriptor()
	}

	return New(providers...)
}

func (fp fileProvider) descriptor() ProviderDescriptor {
	models := make([]ModelDescriptor, len(fp.Models))
	for i, fm := range fp.Models {
		label := fm.Label
		if label == "" {
			label = fm.ID
		}

		models[i] = ModelDescriptor{
			ID:          fm.ID,
			Label:       label,
			Description: fm.Description,
			Rates: cost.Rates{
				Input:  cost.PerMillion(fm.Input),
				Output: cost.PerMillion(fm.Output),
			},
		}
	}

	return ProviderDescriptor{
		ID:             fp.ID,
		Label:          fp.Label,
		Schema:         fp.Schema,
		BaseURL:        fp.BaseURL,
		Auth:           AuthPlacement(fp.Auth),
		KeyHint:        fp.KeyHint,
		KeyPlaceholder: fp.KeyPlaceholder,
		KeyEnv:         fp.KeyEnv,
		Headers:        fp.Headers,
		Models:         models,
	}
}

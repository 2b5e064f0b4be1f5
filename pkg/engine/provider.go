package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/germanamz/illias/pkg/providers/anthropic"
	"github.com/germanamz/illias/pkg/providers/gemini"
	"github.com/germanamz/illias/pkg/providers/openai"
)

// ProviderConfig is everything an adapter factory needs to build a Completer
// for one request.
type ProviderConfig struct {
	Provider   catalog.ProviderDescriptor
	Model      string
	Credential string //nolint:gosec // held in memory only for the session
	Params     Params
	Headers    map[string]string // Expanded extra headers.
	Client     *http.Client
	Log        *slog.Logger
}

// AdapterFactory creates a Completer from a ProviderConfig.
type AdapterFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[catalog.Schema]AdapterFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories[catalog.SchemaOpenAI] = newOpenAI
		factories[catalog.SchemaGemini] = newGemini
		factories[catalog.SchemaAnthropic] = newAnthropic
	})
}

// RegisterAdapter registers an adapter factory for a schema, replacing any
// existing one. It can be called before New to support additional schemas or
// to swap the transport in tests.
func RegisterAdapter(kind catalog.Schema, factory AdapterFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given schema.
func getFactory(kind catalog.Schema) (AdapterFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(cfg.Provider.BaseURL, cfg.Credential, cfg.Model)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newGemini(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := gemini.New(cfg.Provider.BaseURL, cfg.Credential, cfg.Model)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newAnthropic(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := anthropic.New(cfg.Provider.BaseURL, cfg.Credential, cfg.Model)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

// configure applies the descriptor-driven settings shared by every schema.
// An empty auth placement keeps the adapter's own default.
func configure(a *modeladapter.ModelAdapter, cfg ProviderConfig) {
	if auth := cfg.Provider.Auth; auth != (catalog.AuthPlacement{}) {
		a.Auth = modeladapter.Auth{
			Key:    cfg.Credential,
			Header: auth.Header,
			Scheme: auth.Scheme,
			Query:  auth.Query,
		}
	}

	a.Temperature = cfg.Params.Temperature
	a.MaxTokens = cfg.Params.MaxTokens
	a.AddHeaders(cfg.Headers)
	a.Client = cfg.Client
	a.Log = cfg.Log
}

// buildCompleter creates a Completer using the factory registered for the
// provider's schema.
func buildCompleter(cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Provider.Schema)
	if !ok {
		return nil, fmt.Errorf("engine: provider %q: unknown schema %q", cfg.Provider.ID, cfg.Provider.Schema)
	}

	return factory(cfg)
}

// EnvCredential returns the credential found in the provider's key
// environment variable, if it declares one.
func EnvCredential(p catalog.ProviderDescriptor) string {
	if p.KeyEnv == "" {
		return ""
	}
	return os.Getenv(p.KeyEnv)
}

package engine

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/chats/chat"
)

// Engine is the composition root. It owns the catalog and the event bus and
// hands out sessions built from the configuration defaults.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
	events  *EventBus
	client  *http.Client
	log     *slog.Logger

	provider catalog.ProviderDescriptor
	model    catalog.ModelDescriptor
	params   Params
}

// Option customizes an Engine.
type Option func(*Engine)

// WithCatalog uses c instead of loading the catalog named by the config.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithHTTPClient sets the client used for provider calls. The default is
// http.DefaultClient, which imposes no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine. It loads the catalog (unless one is injected) and
// checks that the configured default provider and model exist.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:    cfg,
		events: NewEventBus(),
		log:    slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		c, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		e.catalog = c
	}

	if err := e.resolveDefaults(); err != nil {
		return nil, err
	}

	e.params = cfg.Params()
	if err := e.params.Validate(); err != nil {
		return nil, err
	}

	return e, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		c, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		return c, nil
	}

	c, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return c, nil
}

func (e *Engine) resolveDefaults() error {
	providers := e.catalog.Providers()
	if len(providers) == 0 {
		return fmt.Errorf("engine: catalog has no providers")
	}

	pid := e.cfg.Defaults.Provider
	if pid == "" {
		pid = providers[0].ID
	}

	p, err := e.catalog.Provider(pid)
	if err != nil {
		return fmt.Errorf("engine: defaults: %w", err)
	}

	m := p.DefaultModel()
	if e.cfg.Defaults.Model != "" {
		m, err = e.catalog.Model(p.ID, e.cfg.Defaults.Model)
		if err != nil {
			return fmt.Errorf("engine: defaults: %w", err)
		}
	}

	e.provider = p
	e.model = m

	return nil
}

// Config returns the configuration the engine was built from, with defaults
// applied.
func (e *Engine) Config() Config { return e.cfg }

// Catalog returns the provider catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Events returns the engine's event bus. Every session publishes on it.
func (e *Engine) Events() *EventBus { return e.events }

// NewSession creates a session with the default provider, model and
// parameters and no credential.
func (e *Engine) NewSession() *Session {
	s := &Session{
		id:      uuid.NewString(),
		catalog: e.catalog,
		events:  e.events,
		headers: catalog.HeaderContext{Referer: e.cfg.App.Referer, AppTitle: e.cfg.App.Title},
		client:  e.client,
		log:     e.log,

		provider: e.provider,
		model:    e.model,
		params:   e.params,
		history:  chat.New(),
	}

	e.log.Debug("session created", "session", s.id, "provider", s.provider.ID, "model", s.model.ID)

	return s
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/chats/chat"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/modeladapter"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("engine: empty message")
	// ErrBusy is returned while a request is in flight.
	ErrBusy = errors.New("engine: a request is already in flight")
	// ErrMissingCredential is returned by Send when no credential is set.
	ErrMissingCredential = errors.New("engine: missing credential")
	// ErrAdapterPanic wraps a panic raised while building or calling a completer.
	ErrAdapterPanic = errors.New("engine: adapter panicked")
)

// State is the request lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a copy of the observable state of a session.
type Snapshot struct {
	ID            string            `json:"id"`
	State         State             `json:"state"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model"`
	HasCredential bool              `json:"has_credential"`
	Params        Params            `json:"params"`
	Stats         Stats             `json:"stats"`
	History       []message.Message `json:"history"`
}

// Session is one conversation with the currently selected provider and model.
// At most one request is in flight at a time; the lock is not held while the
// provider is called so observers and setters stay responsive.
type Session struct {
	id      string
	catalog *catalog.Catalog
	events  *EventBus
	headers catalog.HeaderContext
	client  *http.Client
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	provider   catalog.ProviderDescriptor
	model      catalog.ModelDescriptor
	credential string
	params     Params
	history    *chat.Chat
	stats      Stats
}

// request is the state captured when a send begins.
type request struct {
	cfg     ProviderConfig
	model   catalog.ModelDescriptor
	chat    *chat.Chat
	started time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Send appends text as a user message, calls the provider and appends the
// reply. Blank text, a request already in flight and a missing credential are
// rejected without changing any state. A failed request leaves the user
// message in history but adds no reply and does not touch the stats. A
// panicking adapter fails the request with ErrAdapterPanic.
func (s *Session) Send(ctx context.Context, text string) (reply message.Message, err error) {
	req, err := s.begin(text)
	if err != nil {
		return message.Message{}, err
	}

	var completer modeladapter.Completer
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAdapterPanic, r)
		}
		reply, err = s.finish(req, completer, reply, err)
	}()

	completer, err = buildCompleter(req.cfg)
	if err == nil {
		reply, err = completer.Complete(ctx, req.chat)
	}

	return reply, err
}

func (s *Session) begin(text string) (request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return request{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAwaitingResponse {
		return request{}, ErrBusy
	}

	if s.credential == "" {
		s.publish(EventCredentialRequired, CredentialRequired{
			Provider:       s.provider.ID,
			KeyHint:        s.provider.KeyHint,
			KeyPlaceholder: s.provider.KeyPlaceholder,
		})
		return request{}, ErrMissingCredential
	}

	msg := message.New(role.User, text)
	s.history.Append(msg)
	s.publish(EventMessageAppended, MessageAppended{Index: s.history.Len() - 1, Message: msg})

	s.state = StateAwaitingResponse
	s.publish(EventRequestStarted, SelectionChanged{Provider: s.provider.ID, Model: s.model.ID})

	c := chat.New()
	if sp := strings.TrimSpace(s.params.SystemPrompt); sp != "" {
		c.Append(message.New(role.System, sp))
	}
	c.Append(s.history.Messages()...)

	return request{
		cfg: ProviderConfig{
			Provider:   s.provider,
			Model:      s.model.ID,
			Credential: s.credential,
			Params:     s.params,
			Headers:    s.provider.ExtraHeaders(s.headers),
			Client:     s.client,
			Log:        s.log,
		},
		model:   s.model,
		chat:    c,
		started: time.Now(),
	}, nil
}

func (s *Session) finish(req request, completer modeladapter.Completer, reply message.Message, err error) (message.Message, error) {
	elapsed := time.Since(req.started)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateIdle

	log := s.log.With("session", s.id, "provider", req.cfg.Provider.ID, "model", req.model.ID)

	if err != nil {
		log.Warn("request failed", "error", err, "duration", elapsed)
		s.publish(EventRequestFinished, RequestFinished{
			Err:      err,
			Error:    modeladapter.ErrorMessage(err),
			Duration: elapsed,
		})
		return message.Message{}, fmt.Errorf("engine: session %s: %w", s.id, err)
	}

	reply.Role = role.Assistant
	s.history.Append(reply)
	s.stats = s.stats.addReply()

	if ur, ok := completer.(modeladapter.UsageReporter); ok {
		if u, reported := ur.UsageTracker().Last(); reported {
			s.stats = s.stats.addUsage(u, req.model.Rates)
			log = log.With("input_tokens", u.InputTokens, "output_tokens", u.OutputTokens, "total_tokens", u.Total())
		}
	}

	log.Info("request finished", "duration", elapsed)

	s.publish(EventMessageAppended, MessageAppended{Index: s.history.Len() - 1, Message: reply})
	s.publish(EventStatsUpdated, s.stats)
	s.publish(EventRequestFinished, RequestFinished{OK: true, Duration: elapsed})

	return reply, nil
}

// Clear empties the history and zeroes the stats in one step. It is rejected
// while a request is in flight.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAwaitingResponse {
		return ErrBusy
	}

	s.history.Reset()
	s.stats = Stats{}

	s.publish(EventCleared, nil)
	s.publish(EventStatsUpdated, s.stats)

	return nil
}

// SetProvider selects a provider, resets the model to its first listed model
// and forgets the credential.
func (s *Session) SetProvider(id string) error {
	p, err := s.catalog.Provider(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.provider = p
	s.model = p.DefaultModel()
	s.credential = ""

	s.publish(EventProviderChanged, SelectionChanged{Provider: p.ID, Model: s.model.ID})

	return nil
}

// SetModel selects a model of the current provider.
func (s *Session) SetModel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.catalog.Model(s.provider.ID, id)
	if err != nil {
		return err
	}

	s.model = m
	s.publish(EventModelChanged, SelectionChanged{Provider: s.provider.ID, Model: m.ID})

	return nil
}

// SetCredential stores the credential for the current provider. Surrounding
// whitespace is dropped; an empty value clears it.
func (s *Session) SetCredential(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = strings.TrimSpace(v)
}

// SetParams replaces the generation parameters. Invalid values are rejected
// and the previous parameters kept.
func (s *Session) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.params = p
	return nil
}

// Provider returns the selected provider.
func (s *Session) Provider() catalog.ProviderDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// Model returns the selected model.
func (s *Session) Model() catalog.ModelDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Params returns the current generation parameters.
func (s *Session) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Stats returns the accumulated stats.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// History returns a copy of the conversation.
func (s *Session) History() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// State returns the request lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasCredential reports whether a credential is set.
func (s *Session) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != ""
}

// Snapshot returns a consistent copy of all observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:            s.id,
		State:         s.state,
		Provider:      s.provider.ID,
		Model:         s.model.ID,
		HasCredential: s.credential != "",
		Params:        s.params,
		Stats:         s.stats,
		History:       s.history.Messages(),
	}
}

// publish must be called with s.mu held so events keep the order of the
// state changes they describe.
func (s *Session) publish(kind EventKind, data any) {
	s.events.Publish(Event{
		Kind:      kind,
		SessionID: s.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}

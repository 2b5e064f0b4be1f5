package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var llamaRates = cost.Rates{
	Input:  cost.PerMillion(0.59),
	Output: cost.PerMillion(0.79),
}

func testCatalog(t *testing.T, baseURL string) *catalog.Catalog {
	t.Helper()

	c, err := catalog.New(
		catalog.ProviderDescriptor{
			ID:             "groq",
			Label:          "Groq",
			Schema:         catalog.SchemaOpenAI,
			BaseURL:        baseURL + "/openai/v1",
			Auth:           catalog.AuthPlacement{Scheme: "Bearer"},
			KeyHint:        "console.groq.com/keys",
			KeyPlaceholder: "gsk_...",
			Models: []catalog.ModelDescriptor{
				{ID: "llama-3.3-70b-versatile", Label: "Llama 3.3 70B", Rates: llamaRates},
				{ID: "llama-3.1-8b-instant", Label: "Llama 3.1 8B"},
			},
		},
		catalog.ProviderDescriptor{
			ID:      "gemini",
			Label:   "Google Gemini",
			Schema:  catalog.SchemaGemini,
			BaseURL: baseURL + "/v1beta",
			Auth:    catalog.AuthPlacement{Query: "key"},
			Models: []catalog.ModelDescriptor{
				{ID: "gemini-2.0-flash", Rates: cost.Rates{Input: cost.PerMillion(0.1), Output: cost.PerMillion(0.4)}},
			},
		},
		catalog.ProviderDescriptor{
			ID:      "openrouter",
			Label:   "OpenRouter",
			Schema:  catalog.SchemaOpenAI,
			BaseURL: baseURL + "/api/v1",
			Auth:    catalog.AuthPlacement{Scheme: "Bearer"},
			Headers: map[string]string{"HTTP-Referer": "${referer}", "X-Title": "${app_title}"},
			Models:  []catalog.ModelDescriptor{{ID: "free-model"}},
		},
	)
	require.NoError(t, err)

	return c
}

// testServer counts requests and delegates to handler.
type testServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newTestEngine(t *testing.T, cfg Config, handler http.HandlerFunc) (*Engine, *testServer) {
	t.Helper()

	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	e, err := New(cfg, WithCatalog(testCatalog(t, ts.URL)), WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	return e, ts
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("failed to read body: %v", err)
		return nil
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Errorf("failed to unmarshal body: %v", err)
	}

	return req
}

func groqReply(text string, prompt, completion int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": text}}},
		"usage":   map[string]any{"prompt_tokens": prompt, "completion_tokens": completion},
	}
}

func drainEvents(sub *Subscription) []Event {
	var events []Event
	for {
		select {
		case e := <-sub.C:
			events = append(events, e)
		default:
			return events
		}
	}
}

func drain(sub *Subscription) []EventKind {
	var kinds []EventKind
	for _, e := range drainEvents(sub) {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestSend_GroqSuccess(t *testing.T) {
	e, ts := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_x", r.Header.Get("Authorization"))

		req := readBody(t, r)
		assert.Equal(t, "llama-3.3-70b-versatile", req["model"])

		msgs, _ := req["messages"].([]any)
		if assert.Len(t, msgs, 2) {
			first, _ := msgs[0].(map[string]any)
			assert.Equal(t, "system", first["role"])
			assert.Equal(t, DefaultSystemPrompt, first["content"])
		}

		writeJSON(t, w, groqReply("Hello!", 5, 3))
	})

	s := e.NewSession()
	s.SetCredential("  gsk_x  ")

	reply, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply.Content)
	assert.Equal(t, role.Assistant, reply.Role)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, role.User, history[0].Role)
	assert.Equal(t, "Hi", history[0].Content)
	assert.Equal(t, role.Assistant, history[1].Role)
	assert.Equal(t, "Hello!", history[1].Content)

	stats := s.Stats()
	assert.Equal(t, 1, stats.MessageCount)
	assert.Equal(t, 5, stats.InputTokens)
	assert.Equal(t, 3, stats.OutputTokens)
	assert.InDelta(t, 5*0.59e-6+3*0.79e-6, stats.TotalCost, 1e-15)

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, int32(1), ts.hits.Load())
}

func TestSend_RequestFailed(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key"}}`))
	})

	s := e.NewSession()
	s.SetCredential("bad")

	sub := e.Events().Subscribe(16)
	defer e.Events().Unsubscribe(sub)

	_, err := s.Send(context.Background(), "Hi")

	var re *modeladapter.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.StatusCode)
	assert.Equal(t, "Invalid API Key", modeladapter.ErrorMessage(err))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, role.User, history[0].Role)
	assert.Equal(t, Stats{}, s.Stats())
	assert.Equal(t, StateIdle, s.State())

	var finished RequestFinished
	for _, ev := range drainEvents(sub) {
		if ev.Kind == EventRequestFinished {
			finished, _ = ev.Data.(RequestFinished)
		}
	}
	assert.False(t, finished.OK)
	assert.Equal(t, "Invalid API Key", finished.Error)
	assert.ErrorAs(t, finished.Err, &re)
}

func TestSend_MissingUsage(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	reply, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)

	assert.Equal(t, Stats{MessageCount: 1}, s.Stats())
}

func TestSend_EmptyReplyIsSuccess(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"choices": []any{}})
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	reply, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Empty(t, reply.Content)
	assert.Len(t, s.History(), 2)
	assert.Equal(t, 1, s.Stats().MessageCount)
}

func TestSend_EmptyMessage(t *testing.T) {
	e, ts := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, groqReply("x", 1, 1))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(context.Background(), text)
		require.ErrorIs(t, err, ErrEmptyMessage)
	}

	assert.Empty(t, s.History())
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestSend_MissingCredential(t *testing.T) {
	e, ts := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, groqReply("x", 1, 1))
	})

	sub := e.Events().Subscribe(8)
	defer e.Events().Unsubscribe(sub)

	s := e.NewSession()
	_, err := s.Send(context.Background(), "Hi")
	require.ErrorIs(t, err, ErrMissingCredential)

	assert.Empty(t, s.History())
	assert.Equal(t, int32(0), ts.hits.Load())

	ev := <-sub.C
	assert.Equal(t, EventCredentialRequired, ev.Kind)
	assert.Equal(t, CredentialRequired{Provider: "groq", KeyHint: "console.groq.com/keys", KeyPlaceholder: "gsk_..."}, ev.Data)
}

func TestSend_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	e, ts := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		writeJSON(t, w, groqReply("done", 1, 1))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	type result struct {
		content string
		err     error
	}
	done := make(chan result, 1)

	go func() {
		reply, err := s.Send(context.Background(), "first")
		done <- result{reply.Content, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}

	assert.Equal(t, StateAwaitingResponse, s.State())

	_, err := s.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, s.Clear(), ErrBusy)

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].Content)

	close(release)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "done", r.content)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish")
	}

	assert.Equal(t, int32(1), ts.hits.Load())
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, s.History(), 2)
}

func TestSend_ContextCanceled(t *testing.T) {
	release := make(chan struct{})

	e, _ := newTestEngine(t, DefaultConfig(), func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	s := e.NewSession()
	s.SetCredential("gsk_x")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Send(ctx, "Hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, Stats{}, s.Stats())
}

func TestSend_EventOrder(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, groqReply("Hello!", 5, 3))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	sub := e.Events().Subscribe(16)
	defer e.Events().Unsubscribe(sub)

	_, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)

	assert.Equal(t, []EventKind{
		EventMessageAppended,
		EventRequestStarted,
		EventMessageAppended,
		EventStatsUpdated,
		EventRequestFinished,
	}, drain(sub))
}

func TestSend_CostAccumulatesAdditively(t *testing.T) {
	replies := [][2]int{{5, 3}, {120, 40}, {7, 0}}
	var n atomic.Int32

	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		r := replies[n.Add(1)-1]
		writeJSON(t, w, groqReply("ok", r[0], r[1]))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	var in, out int
	for _, r := range replies {
		_, err := s.Send(context.Background(), "again")
		require.NoError(t, err)
		in += r[0]
		out += r[1]
	}

	stats := s.Stats()
	assert.Equal(t, len(replies), stats.MessageCount)
	assert.Equal(t, in, stats.InputTokens)
	assert.Equal(t, out, stats.OutputTokens)
	assert.InDelta(t, cost.Estimate(in, out, llamaRates).TotalCost, stats.TotalCost, 1e-12)
}

func TestSend_HistoryOrderReachesProvider(t *testing.T) {
	var (
		mu           sync.Mutex
		lastMessages []any
	)

	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)

		mu.Lock()
		lastMessages, _ = req["messages"].([]any)
		mu.Unlock()

		writeJSON(t, w, groqReply("reply", 1, 1))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")
	require.NoError(t, s.SetParams(Params{Temperature: 1, MaxTokens: 64}))

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Send(context.Background(), text)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()

	history := s.History()
	require.Len(t, lastMessages, len(history)-1, "blank system prompt is omitted")
	for i, m := range history[:len(history)-1] {
		got, _ := lastMessages[i].(map[string]any)
		assert.Equal(t, string(m.Role), got["role"])
		assert.Equal(t, m.Content, got["content"])
	}
}

func TestSend_Gemini(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "AIza-x", r.URL.Query().Get("key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		req := readBody(t, r)
		_, ok := req["systemInstruction"]
		assert.True(t, ok)

		writeJSON(t, w, map[string]any{
			"candidates":    []map[string]any{{"content": map[string]any{"parts": []map[string]any{{"text": "Hola"}}}}},
			"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 2},
		})
	})

	s := e.NewSession()
	require.NoError(t, s.SetProvider("gemini"))
	s.SetCredential("AIza-x")

	reply, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hola", reply.Content)
	assert.Equal(t, 10, s.Stats().InputTokens)
	assert.Equal(t, 2, s.Stats().OutputTokens)
}

func TestSend_ExtraHeaders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Referer = "http://localhost:8080"

	e, _ := newTestEngine(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://localhost:8080", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, DefaultAppTitle, r.Header.Get("X-Title"))
		writeJSON(t, w, groqReply("ok", 1, 1))
	})

	s := e.NewSession()
	require.NoError(t, s.SetProvider("openrouter"))
	s.SetCredential("sk-or-x")

	_, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)
}

func TestClear(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, groqReply("ok", 5, 3))
	})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	_, err := s.Send(context.Background(), "Hi")
	require.NoError(t, err)

	sub := e.Events().Subscribe(8)
	defer e.Events().Unsubscribe(sub)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.History())
	assert.Equal(t, Stats{}, s.Stats())

	require.NoError(t, s.Clear())
	assert.Empty(t, s.History())
	assert.Equal(t, Stats{}, s.Stats())

	assert.Equal(t, []EventKind{EventCleared, EventStatsUpdated, EventCleared, EventStatsUpdated}, drain(sub))
	assert.True(t, s.HasCredential(), "clear keeps the credential")
}

func TestSetProvider_ResetsModelAndCredential(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(http.ResponseWriter, *http.Request) {})

	s := e.NewSession()
	require.NoError(t, s.SetModel("llama-3.1-8b-instant"))
	s.SetCredential("gsk_x")
	require.True(t, s.HasCredential())

	require.NoError(t, s.SetProvider("groq"))
	assert.Equal(t, "llama-3.3-70b-versatile", s.Model().ID)
	assert.False(t, s.HasCredential())

	require.NoError(t, s.SetProvider("gemini"))
	assert.Equal(t, "gemini", s.Provider().ID)
	assert.Equal(t, "gemini-2.0-flash", s.Model().ID)
}

func TestSetProvider_Unknown(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(http.ResponseWriter, *http.Request) {})

	s := e.NewSession()
	s.SetCredential("gsk_x")

	require.ErrorIs(t, s.SetProvider("nope"), catalog.ErrProviderNotFound)
	assert.Equal(t, "groq", s.Provider().ID)
	assert.True(t, s.HasCredential())
}

func TestSetModel_Unknown(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(http.ResponseWriter, *http.Request) {})

	s := e.NewSession()

	require.ErrorIs(t, s.SetModel("gemini-2.0-flash"), catalog.ErrModelNotFound)
	assert.Equal(t, "llama-3.3-70b-versatile", s.Model().ID)
}

func TestSetParams(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(http.ResponseWriter, *http.Request) {})

	s := e.NewSession()

	require.NoError(t, s.SetParams(Params{Temperature: 2, MaxTokens: 1, SystemPrompt: "x"}))
	assert.Equal(t, Params{Temperature: 2, MaxTokens: 1, SystemPrompt: "x"}, s.Params())

	require.Error(t, s.SetParams(Params{Temperature: 2.1, MaxTokens: 1}))
	require.Error(t, s.SetParams(Params{Temperature: -0.1, MaxTokens: 1}))
	require.Error(t, s.SetParams(Params{Temperature: 1, MaxTokens: 0}))
	assert.Equal(t, Params{Temperature: 2, MaxTokens: 1, SystemPrompt: "x"}, s.Params())
}

func TestSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), func(http.ResponseWriter, *http.Request) {})

	s := e.NewSession()
	snap := s.Snapshot()

	assert.Equal(t, s.ID(), snap.ID)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "groq", snap.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", snap.Model)
	assert.False(t, snap.HasCredential)
	assert.Empty(t, snap.History)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"idle"`)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replyJSON = `{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`

func testCatalog(t *testing.T, baseURL string) *catalog.Catalog {
	t.Helper()

	cat, err := catalog.New(
		catalog.ProviderDescriptor{
			ID:             "groq",
			Label:          "Groq",
			Schema:         catalog.SchemaOpenAI,
			BaseURL:        baseURL,
			KeyHint:        "console.groq.com/keys",
			KeyPlaceholder: "gsk_...",
			KeyEnv:         "ILLIAS_TEST_GROQ_KEY",
			Models: []catalog.ModelDescriptor{{
				ID:    "llama-3.3-70b-versatile",
				Label: "Llama 3.3 70B",
				Rates: cost.Rates{Input: cost.PerMillion(0.59), Output: cost.PerMillion(0.79)},
			}},
		},
		catalog.ProviderDescriptor{
			ID:      "mistral",
			Label:   "Mistral",
			Schema:  catalog.SchemaOpenAI,
			BaseURL: baseURL,
			KeyEnv:  "ILLIAS_TEST_MISTRAL_KEY",
			Models: []catalog.ModelDescriptor{
				{ID: "mistral-small-latest", Label: "Mistral Small"},
				{ID: "mistral-large-latest", Label: "Mistral Large", Description: "flagship"},
			},
		},
	)
	require.NoError(t, err)

	return cat
}

// newTestModel returns an app model whose session talks to a stub upstream.
// The returned pointer holds the last Authorization header it received.
func newTestModel(t *testing.T) (appModel, *atomic.Value) {
	t.Helper()

	var auth atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(replyJSON))
	}))
	t.Cleanup(upstream.Close)

	eng, err := engine.New(engine.DefaultConfig(),
		engine.WithCatalog(testCatalog(t, upstream.URL)),
		engine.WithHTTPClient(upstream.Client()),
	)
	require.NoError(t, err)

	m := newAppModel(context.Background(), eng, eng.NewSession())
	m.width = 80

	return m, &auth
}

// update runs one Update and unwraps the model.
func update(t *testing.T, m appModel, msg tea.Msg) (appModel, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)
	switch v := next.(type) {
	case appModel:
		return v, cmd
	case *appModel:
		return *v, cmd
	}

	t.Fatalf("unexpected model type %T", next)
	return m, nil
}

// collect runs cmd and every command of nested batches, returning the messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}

	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}

	return []tea.Msg{msg}
}

func findSendComplete(t *testing.T, msgs []tea.Msg) sendCompleteMsg {
	t.Helper()

	for _, msg := range msgs {
		if sc, ok := msg.(sendCompleteMsg); ok {
			return sc
		}
	}

	t.Fatalf("no sendCompleteMsg in %v", msgs)
	return sendCompleteMsg{}
}

func TestSubmit_SendsMessage(t *testing.T) {
	m, auth := newTestModel(t)
	m.sess.SetCredential("gsk-test")

	m, cmd := update(t, m, inputSubmitMsg{text: "hello"})
	assert.Equal(t, stateProcessing, m.state)
	assert.False(t, m.inputBox.enabled)

	done := findSendComplete(t, collect(cmd))
	require.NoError(t, done.err)
	assert.Equal(t, "Bearer gsk-test", auth.Load())

	m, _ = update(t, m, done)
	assert.Equal(t, stateIdle, m.state)
	assert.Empty(t, m.pending)
	assert.Len(t, m.sess.History(), 2)
}

func TestSubmit_MissingCredentialResendsAfterPrompt(t *testing.T) {
	m, auth := newTestModel(t)

	m, cmd := update(t, m, inputSubmitMsg{text: "hello"})
	done := findSendComplete(t, collect(cmd))
	require.ErrorIs(t, done.err, engine.ErrMissingCredential)

	m, _ = update(t, m, done)
	assert.Equal(t, stateIdle, m.state)
	assert.Equal(t, "hello", m.pending)

	m, _ = update(t, m, credentialRequiredMsg{req: engine.CredentialRequired{Provider: "groq"}})
	require.NotNil(t, m.prompt)
	assert.Equal(t, promptCredential, m.prompt.kind)
	assert.False(t, m.inputBox.enabled)

	*m.prompt.value = " gsk-typed "
	m.prompt.form.State = huh.StateCompleted

	m, cmd = update(t, m, promptDoneMsg{})
	assert.Nil(t, m.prompt)
	assert.True(t, m.sess.HasCredential())
	assert.Equal(t, stateProcessing, m.state)

	done = findSendComplete(t, collect(cmd))
	require.NoError(t, done.err)
	assert.Equal(t, "Bearer gsk-typed", auth.Load())
}

func TestCredentialPrompt_AbortDropsPending(t *testing.T) {
	m, _ := newTestModel(t)
	m.pending = "hello"

	m, _ = update(t, m, inputSubmitMsg{text: "/key"})
	require.NotNil(t, m.prompt)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, m.prompt)
	assert.False(t, m.prompt.completed())

	m, _ = update(t, m, promptDoneMsg{})
	assert.Nil(t, m.prompt)
	assert.Empty(t, m.pending)
	assert.False(t, m.sess.HasCredential())
	assert.True(t, m.inputBox.enabled)
}

func TestSendComplete_ErrorClearsPending(t *testing.T) {
	m, _ := newTestModel(t)
	m.state = stateProcessing
	m.pending = "hello"

	m, cmd := update(t, m, sendCompleteMsg{err: errors.New("boom")})
	assert.Equal(t, stateIdle, m.state)
	assert.Empty(t, m.pending)
	assert.NotNil(t, cmd)
}

func TestCommand_ProviderWithID(t *testing.T) {
	t.Setenv("ILLIAS_TEST_MISTRAL_KEY", "ms-env")

	m, _ := newTestModel(t)
	m, _ = update(t, m, inputSubmitMsg{text: "/provider mistral"})

	assert.Equal(t, "mistral", m.sess.Provider().ID)
	assert.Equal(t, "mistral-small-latest", m.sess.Model().ID)
	assert.True(t, m.sess.HasCredential())
	assert.Equal(t, "Mistral", m.statusBar.provider)
}

func TestCommand_ModelWithID(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, inputSubmitMsg{text: "/provider mistral"})

	m, cmd := update(t, m, inputSubmitMsg{text: "/model mistral-large-latest"})
	assert.Nil(t, cmd)
	assert.Equal(t, "mistral-large-latest", m.sess.Model().ID)

	m, cmd = update(t, m, inputSubmitMsg{text: "/model nope"})
	assert.NotNil(t, cmd)
	assert.Equal(t, "mistral-large-latest", m.sess.Model().ID)
}

func TestCommand_Pickers(t *testing.T) {
	tests := []struct {
		text string
		kind promptKind
	}{
		{"/provider", promptProvider},
		{"/model", promptModel},
		{"/key", promptCredential},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			m, _ := newTestModel(t)
			m, _ = update(t, m, inputSubmitMsg{text: tt.text})
			require.NotNil(t, m.prompt)
			assert.Equal(t, tt.kind, m.prompt.kind)
			assert.NotEmpty(t, m.View())
		})
	}
}

func TestProviderPicker_Apply(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, inputSubmitMsg{text: "/provider"})
	require.NotNil(t, m.prompt)

	*m.prompt.value = "mistral"
	m.prompt.form.State = huh.StateCompleted

	m, _ = update(t, m, promptDoneMsg{})
	assert.Equal(t, "mistral", m.sess.Provider().ID)
}

func TestCommand_ClearAndUnknown(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := update(t, m, inputSubmitMsg{text: "/clear"})
	assert.Nil(t, cmd)

	_, cmd = update(t, m, inputSubmitMsg{text: "/bogus"})
	assert.NotNil(t, cmd)
}

func TestCommand_Quit(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := update(t, m, inputSubmitMsg{text: "/quit"})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestStatsMsg_UpdatesStatusBar(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, statsMsg{stats: engine.Stats{MessageCount: 1, InputTokens: 5, OutputTokens: 3, TotalCost: 0.000005}})
	assert.Contains(t, m.statusBar.View(), "$0.000005")
}

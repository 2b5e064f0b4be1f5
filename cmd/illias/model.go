package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/illias/pkg/chats/role"
	"github.com/germanamz/illias/pkg/engine"
	"github.com/germanamz/illias/pkg/modeladapter"
)

// appState represents the application state machine.
type appState int

const (
	stateIdle appState = iota
	stateProcessing
)

// appModel is the root bubbletea model.
type appModel struct {
	ctx          context.Context
	eng          *engine.Engine
	sess         *engine.Session
	inputBox     inputModel
	statusBar    statusBarModel
	spinner      spinner.Model
	prompt       *prompt
	pending      string // message to resend once a credential is entered
	state        appState
	cancelBridge context.CancelFunc
	width        int
	height       int
}

func newAppModel(ctx context.Context, eng *engine.Engine, sess *engine.Session) appModel {
	m := appModel{
		ctx:       ctx,
		eng:       eng,
		sess:      sess,
		inputBox:  newInput(),
		statusBar: statusBarModel{decimals: eng.Config().DecimalPlaces()},
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(spinnerStyle)),
		state:     stateIdle,
	}
	m.refreshStatus()
	return m
}

func (m appModel) Init() tea.Cmd {
	// Delay focusing the input so that stale terminal escape-sequence
	// responses (e.g. OSC 11 background-color) are drained first.
	return tea.Batch(
		tea.Println(m.welcome()),
		tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg { return initDrainMsg{} }),
	)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		initMarkdownRenderer(m.width - 4)
		m.inputBox.setWidth(m.width)
		m.statusBar.width = m.width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case initDrainMsg:
		if m.prompt != nil || m.state != stateIdle {
			return m, nil
		}
		return m, m.inputBox.enable()

	case programReadyMsg:
		m.cancelBridge = startBridge(m.ctx, msg.program, m.sess.ID(), m.eng.Events())
		return m, nil

	case inputSubmitMsg:
		return m.handleSubmit(msg.text)

	case messageAppendedMsg:
		return m, tea.Println(m.renderMessage(msg))

	case statsMsg:
		m.statusBar.stats = msg.stats
		return m, nil

	case selectionMsg:
		m.refreshStatus()
		p := m.sess.Provider()
		return m, tea.Println(dimStyle.Render(fmt.Sprintf(" using %s / %s", p.Label, m.sess.Model().Label)))

	case clearedMsg:
		m.refreshStatus()
		return m, tea.Println(dimStyle.Render(" conversation cleared"))

	case credentialRequiredMsg:
		return m, m.openPrompt(newCredentialPrompt(m.sess.Provider(), m.width))

	case sendCompleteMsg:
		return m.handleSendComplete(msg)

	case promptDoneMsg:
		return m.handlePromptDone()

	case spinner.TickMsg:
		if m.state != stateProcessing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	switch {
	case m.prompt != nil:
		return m, m.prompt.Update(msg)
	case m.state == stateIdle:
		var cmd tea.Cmd
		m.inputBox, cmd = m.inputBox.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m appModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var sections []string

	if m.state == stateProcessing {
		sections = append(sections, fmt.Sprintf(" %s %s",
			m.spinner.View(),
			spinnerStyle.Render("waiting for "+m.statusBar.model+"..."),
		))
	}

	if m.prompt != nil {
		sections = append(sections, m.prompt.View())
	} else {
		sections = append(sections, m.inputBox.View())
	}

	sections = append(sections, m.statusBar.View())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *appModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, m.quit()
	}

	if m.prompt != nil {
		return m, m.prompt.Update(msg)
	}

	if m.state == stateIdle {
		var cmd tea.Cmd
		m.inputBox, cmd = m.inputBox.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *appModel) handleSubmit(text string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(text, "/") {
		return m, m.send(text)
	}

	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return m, m.quit()

	case "/help":
		return m, tea.Println(helpText())

	case "/clear":
		if err := m.sess.Clear(); err != nil {
			return m, printError(err)
		}
		return m, nil

	case "/provider":
		if arg == "" {
			return m, m.openPrompt(newProviderPrompt(m.eng.Catalog(), m.sess.Provider().ID, m.width))
		}
		return m, m.setProvider(arg)

	case "/model":
		if arg == "" {
			return m, m.openPrompt(newModelPrompt(m.sess.Provider(), m.sess.Model().ID, m.width))
		}
		if err := m.sess.SetModel(arg); err != nil {
			return m, printError(err)
		}
		return m, nil

	case "/key":
		return m, m.openPrompt(newCredentialPrompt(m.sess.Provider(), m.width))
	}

	return m, printError(fmt.Errorf("unknown command %s (try /help)", name))
}

// send starts sess.Send in a tea.Cmd and animates the spinner until it returns.
func (m *appModel) send(text string) tea.Cmd {
	m.state = stateProcessing
	m.pending = text
	m.inputBox.disable()

	sess, ctx, start := m.sess, m.ctx, time.Now()
	sendCmd := func() tea.Msg {
		_, err := sess.Send(ctx, text)
		return sendCompleteMsg{err: err, duration: time.Since(start)}
	}

	return tea.Batch(sendCmd, m.spinner.Tick)
}

func (m *appModel) handleSendComplete(msg sendCompleteMsg) (tea.Model, tea.Cmd) {
	m.state = stateIdle
	m.statusBar.duration = msg.duration

	var cmds []tea.Cmd
	if m.prompt == nil {
		cmds = append(cmds, m.inputBox.enable())
	}

	switch {
	case msg.err == nil:
		m.pending = ""
	case errors.Is(msg.err, engine.ErrMissingCredential):
		// The credential prompt resends the pending message.
	case m.ctx.Err() != nil:
	default:
		m.pending = ""
		cmds = append(cmds, printError(msg.err))
	}

	return m, tea.Batch(cmds...)
}

func (m *appModel) handlePromptDone() (tea.Model, tea.Cmd) {
	p := m.prompt
	if p == nil {
		return m, nil
	}
	m.prompt = nil

	var cmds []tea.Cmd
	if p.completed() {
		switch p.kind {
		case promptCredential:
			m.sess.SetCredential(p.result())
			m.refreshStatus()
			if m.pending != "" && m.state == stateIdle {
				return m, m.send(m.pending)
			}
		case promptProvider:
			if p.result() != m.sess.Provider().ID {
				cmds = append(cmds, m.setProvider(p.result()))
			}
		case promptModel:
			if err := m.sess.SetModel(p.result()); err != nil {
				cmds = append(cmds, printError(err))
			}
		}
	} else if p.kind == promptCredential {
		m.pending = ""
	}

	if m.state == stateIdle {
		cmds = append(cmds, m.inputBox.enable())
	}

	return m, tea.Batch(cmds...)
}

// setProvider switches provider and picks up its key from the environment.
func (m *appModel) setProvider(id string) tea.Cmd {
	if err := m.sess.SetProvider(id); err != nil {
		return printError(err)
	}
	prefillCredential(m.sess)
	m.refreshStatus()
	return nil
}

func (m *appModel) openPrompt(p *prompt) tea.Cmd {
	m.prompt = p
	m.inputBox.disable()
	return p.Init()
}

func (m *appModel) refreshStatus() {
	m.statusBar.provider = m.sess.Provider().Label
	m.statusBar.model = m.sess.Model().Label
	m.statusBar.hasCredential = m.sess.HasCredential()
	m.statusBar.stats = m.sess.Stats()
}

func (m *appModel) quit() tea.Cmd {
	if m.cancelBridge != nil {
		m.cancelBridge()
	}
	return tea.Quit
}

func (m appModel) renderMessage(msg messageAppendedMsg) string {
	if msg.msg.Role == role.Assistant {
		return renderAssistantMessage(m.statusBar.model, msg.msg.Content)
	}
	return renderUserMessage(msg.msg.Content)
}

func (m appModel) welcome() string {
	title := m.eng.Config().App.Title
	return accentStyle.Render(title) + dimStyle.Render(fmt.Sprintf(" · %s / %s · /help for commands",
		m.sess.Provider().Label, m.sess.Model().Label))
}

// prefillCredential sets the session key from the provider's environment
// variable, if one is set.
func prefillCredential(sess *engine.Session) {
	if key := engine.EnvCredential(sess.Provider()); key != "" {
		sess.SetCredential(key)
	}
}

func printError(err error) tea.Cmd {
	return tea.Println(errorBlockStyle.Render("error: " + modeladapter.ErrorMessage(err)))
}

func helpText() string {
	return dimStyle.Render(
		"Commands:\n" +
			"  /provider [id]  Switch provider (picker without id)\n" +
			"  /model [id]     Switch model (picker without id)\n" +
			"  /key            Enter the API key for the current provider\n" +
			"  /clear          Start a new conversation\n" +
			"  /help           Show this help message\n" +
			"  /quit           Exit\n\n" +
			"Shortcuts:\n" +
			"  Enter           Submit message\n" +
			"  Alt+Enter       New line\n" +
			"  Esc             Cancel a picker\n" +
			"  Ctrl+C          Exit",
	)
}

package main

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/germanamz/illias/pkg/catalog"
)

type promptKind int

const (
	promptCredential promptKind = iota
	promptProvider
	promptModel
)

// prompt is a huh form embedded in the TUI. The form writes into value;
// the app applies it once the form completes.
type prompt struct {
	kind  promptKind
	form  *huh.Form
	value *string
}

func newPrompt(kind promptKind, width int, field huh.Field, value *string) *prompt {
	form := huh.NewForm(huh.NewGroup(field)).
		WithShowHelp(false).
		WithWidth(max(width-4, 20))
	form.SubmitCmd = func() tea.Msg { return promptDoneMsg{} }
	form.CancelCmd = func() tea.Msg { return promptDoneMsg{} }
	return &prompt{kind: kind, form: form, value: value}
}

// newCredentialPrompt asks for the API key of p, showing where to get one.
func newCredentialPrompt(p catalog.ProviderDescriptor, width int) *prompt {
	var v string
	desc := p.KeyHint
	if p.KeyEnv != "" {
		desc = strings.TrimSpace(desc + "\nOr set " + p.KeyEnv + " in your environment.")
	}
	field := huh.NewInput().
		Title("API key for " + p.Label).
		Description(desc).
		Placeholder(p.KeyPlaceholder).
		EchoMode(huh.EchoModePassword).
		Validate(requireNonBlank("an API key is required")).
		Value(&v)
	return newPrompt(promptCredential, width, field, &v)
}

// newProviderPrompt lists every catalog provider with current preselected.
func newProviderPrompt(c *catalog.Catalog, current string, width int) *prompt {
	v := current
	providers := c.Providers()
	opts := make([]huh.Option[string], len(providers))
	for i, p := range providers {
		opts[i] = huh.NewOption(p.Label+dimStyle.Render(" ("+string(p.Schema)+")"), p.ID)
	}
	field := huh.NewSelect[string]().
		Title("Provider").
		Options(opts...).
		Value(&v)
	return newPrompt(promptProvider, width, field, &v)
}

// newModelPrompt lists the models of p with their descriptions.
func newModelPrompt(p catalog.ProviderDescriptor, current string, width int) *prompt {
	v := current
	opts := make([]huh.Option[string], len(p.Models))
	for i, m := range p.Models {
		label := m.Label
		if m.Description != "" {
			label += dimStyle.Render(" · " + m.Description)
		}
		opts[i] = huh.NewOption(label, m.ID)
	}
	field := huh.NewSelect[string]().
		Title(p.Label + " model").
		Options(opts...).
		Value(&v)
	return newPrompt(promptModel, width, field, &v)
}

var escKey = key.NewBinding(key.WithKeys("esc"))

func (p *prompt) Init() tea.Cmd { return p.form.Init() }

// Update forwards msg to the form. Esc aborts.
func (p *prompt) Update(msg tea.Msg) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, escKey) {
		p.form.State = huh.StateAborted
		return func() tea.Msg { return promptDoneMsg{} }
	}

	m, cmd := p.form.Update(msg)
	if f, ok := m.(*huh.Form); ok {
		p.form = f
	}
	return cmd
}

func (p *prompt) View() string {
	return promptBorder.Render(p.form.View()) + "\n" + dimStyle.Render(" enter confirm · esc cancel")
}

// completed reports whether the user submitted the form.
func (p *prompt) completed() bool { return p.form.State == huh.StateCompleted }

// result returns the submitted value, trimmed.
func (p *prompt) result() string { return strings.TrimSpace(*p.value) }

func requireNonBlank(msg string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(msg)
		}
		return nil
	}
}

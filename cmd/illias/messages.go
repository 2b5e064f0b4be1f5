package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/engine"
)

// messageAppendedMsg delivers a message the session appended to its history.
type messageAppendedMsg struct {
	msg message.Message
}

// statsMsg carries the session's cumulative stats after a change.
type statsMsg struct {
	stats engine.Stats
}

// credentialRequiredMsg asks the user for the provider's API key.
type credentialRequiredMsg struct {
	req engine.CredentialRequired
}

// selectionMsg reports a provider or model change.
type selectionMsg struct {
	sel engine.SelectionChanged
}

// clearedMsg reports that the conversation was reset.
type clearedMsg struct{}

// inputSubmitMsg carries the text the user submitted from the input box.
type inputSubmitMsg struct {
	text string
}

// sendCompleteMsg is returned by the tea.Cmd that calls sess.Send.
type sendCompleteMsg struct {
	err      error
	duration time.Duration
}

// promptDoneMsg fires when the active huh form is submitted or aborted.
type promptDoneMsg struct{}

// programReadyMsg passes the *tea.Program to the model so it can start the bridge.
type programReadyMsg struct {
	program *tea.Program
}

// initDrainMsg fires after a short delay so that stale terminal responses
// are discarded before focusing input.
type initDrainMsg struct{}

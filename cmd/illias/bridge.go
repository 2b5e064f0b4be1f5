package main

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/illias/pkg/engine"
)

// startBridge converts the session's engine events into bubbletea messages.
// The goroutine only calls p.Send; it never touches model state. The returned
// func cancels the bridge and waits for it to exit.
func startBridge(ctx context.Context, p *tea.Program, sessionID string, events *engine.EventBus) context.CancelFunc {
	bridgeCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	sub := events.Subscribe(64)

	wg.Go(func() {
		defer events.Unsubscribe(sub)
		for {
			select {
			case <-bridgeCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.SessionID != sessionID {
					continue
				}
				if msg := eventMsg(ev); msg != nil {
					p.Send(msg)
				}
			}
		}
	})

	return func() {
		cancel()
		wg.Wait()
	}
}

// eventMsg maps an engine event to the message the model handles, or nil.
func eventMsg(ev engine.Event) tea.Msg {
	switch ev.Kind {
	case engine.EventMessageAppended:
		if d, ok := ev.Data.(engine.MessageAppended); ok {
			return messageAppendedMsg{msg: d.Message}
		}
	case engine.EventStatsUpdated:
		if d, ok := ev.Data.(engine.Stats); ok {
			return statsMsg{stats: d}
		}
	case engine.EventCredentialRequired:
		if d, ok := ev.Data.(engine.CredentialRequired); ok {
			return credentialRequiredMsg{req: d}
		}
	case engine.EventProviderChanged, engine.EventModelChanged:
		if d, ok := ev.Data.(engine.SelectionChanged); ok {
			return selectionMsg{sel: d}
		}
	case engine.EventCleared:
		return clearedMsg{}
	}

	return nil
}

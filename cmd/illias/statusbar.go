package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/engine"
	"github.com/mattn/go-runewidth"
)

// statusBarModel shows the selection, token usage, cost and timing.
type statusBarModel struct {
	provider      string
	model         string
	hasCredential bool
	stats         engine.Stats
	decimals      int
	duration      time.Duration
	width         int
}

func (m statusBarModel) View() string {
	parts := []string{m.provider + "/" + m.model}
	if !m.hasCredential {
		parts = append(parts, "no key (/key)")
	}

	parts = append(parts,
		fmt.Sprintf("msgs: %d", m.stats.MessageCount),
		fmt.Sprintf("tokens: ↑%s ↓%s", fmtTokens(m.stats.InputTokens), fmtTokens(m.stats.OutputTokens)),
		"cost: "+cost.Format(m.stats.TotalCost, m.decimals),
	)

	if m.duration > 0 {
		parts = append(parts, fmtDuration(m.duration))
	}

	line := " " + strings.Join(parts, " · ")
	if m.width > 0 {
		line = runewidth.Truncate(line, m.width, "…")
	}

	return statusStyle.Render(line)
}

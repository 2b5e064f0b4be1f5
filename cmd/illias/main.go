package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/engine"
	"github.com/germanamz/illias/pkg/webbridge"
)

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
			serveCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: illias serve [flags]\n\nServe a chat session to a browser over HTTP and WebSocket.\n\nFlags:\n")
				serveCmd.PrintDefaults()
			}
			cfgPath := serveCmd.String("config", "", "path to configuration file (default: illias.yaml if present)")
			envFile := serveCmd.String("env", ".env", "path to .env file (ignored if missing)")
			addr := serveCmd.String("addr", "", "listen address (overrides server.addr)")
			_ = serveCmd.Parse(os.Args[2:])

			exitOnError(loadDotEnv(*envFile))
			exitOnError(runServe(*cfgPath, *addr))

			return
		case "providers":
			provCmd := flag.NewFlagSet("providers", flag.ExitOnError)
			provCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: illias providers [flags]\n\nList the catalog's providers, models and prices.\n\nFlags:\n")
				provCmd.PrintDefaults()
			}
			cfgPath := provCmd.String("config", "", "path to configuration file (default: illias.yaml if present)")
			_ = provCmd.Parse(os.Args[2:])

			exitOnError(runProviders(os.Stdout, *cfgPath))

			return
		}
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: illias [flags]\n       illias <command> [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  serve      Serve a chat session to a browser\n  providers  List providers, models and prices\n")
	}

	configPath := flag.String("config", "", "path to configuration file (default: illias.yaml if present)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	logFile := flag.String("log-file", "", "append logs to this file (default: no logs)")
	flag.Parse()

	exitOnError(loadDotEnv(*envFile))
	exitOnError(run(*configPath, *logFile))
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func run(configPath, logFile string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := openLogFile(logFile, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	eng, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return err
	}

	sess := eng.NewSession()
	prefillCredential(sess)

	p := tea.NewProgram(newAppModel(ctx, eng, sess))

	// Send the program reference so the model can start the bridge.
	go func() {
		p.Send(programReadyMsg{program: p})
	}()

	_, err = p.Run()
	return err
}

func runServe(configPath, addr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return err
	}

	sess := eng.NewSession()
	prefillCredential(sess)

	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := webbridge.New(eng, sess,
		webbridge.WithLogger(log),
		webbridge.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	)

	return srv.ListenAndServe(ctx, addr)
}

func runProviders(w io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, providersTable(eng))
	return err
}

// providersTable renders one row per model, with prices per million tokens.
func providersTable(eng *engine.Engine) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PROVIDER", "SCHEMA", "MODEL", "IN $/M", "OUT $/M", "KEY ENV").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, p := range eng.Catalog().Providers() {
		for _, m := range p.Models {
			t.Row(
				p.ID,
				string(p.Schema),
				m.ID,
				cost.FormatRate(m.Rates.Input),
				cost.FormatRate(m.Rates.Output),
				p.KeyEnv,
			)
		}
	}

	return t.Render()
}

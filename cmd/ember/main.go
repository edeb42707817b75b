// ember is a terminal client for streaming conversational agents. It speaks
// the backend's WebSocket or SSE stream, assembles the conversation timeline
// locally, and renders it either as a full-screen TUI or as plain line
// output.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ember-chat/ember/internal/auth"
	"github.com/ember-chat/ember/internal/client"
	"github.com/ember-chat/ember/internal/config"
	"github.com/ember-chat/ember/internal/rest"
	"github.com/ember-chat/ember/internal/tui"
)

func main() {
	var (
		configPath   = flag.String("config", config.DefaultPath(), "config file path")
		agentID      = flag.String("agent", "", "agent to talk to")
		sessionID    = flag.String("session", "", "session to resume")
		baseURL      = flag.String("url", "", "backend base URL (overrides config)")
		transport    = flag.String("transport", "", "websocket or sse (overrides config)")
		plain        = flag.Bool("plain", false, "plain line output instead of the TUI")
		listAgents   = flag.Bool("list-agents", false, "list available agents and exit")
		listSessions = flag.Bool("list-sessions", false, "list the agent's sessions and exit")
	)
	flag.Parse()

	if err := run(runOptions{
		configPath:   *configPath,
		agentID:      *agentID,
		sessionID:    *sessionID,
		baseURL:      *baseURL,
		transport:    *transport,
		plain:        *plain,
		listAgents:   *listAgents,
		listSessions: *listSessions,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath   string
	agentID      string
	sessionID    string
	baseURL      string
	transport    string
	plain        bool
	listAgents   bool
	listSessions bool
}

func run(opts runOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	tokens := buildTokenSource(cfg)
	restClient := rest.New(cfg.Backend.BaseURL, tokens.Token)
	ctx := context.Background()

	if opts.listAgents {
		return printAgents(ctx, restClient)
	}
	if opts.listSessions {
		if opts.agentID == "" {
			return fmt.Errorf("-list-sessions requires -agent")
		}
		return printSessions(ctx, restClient, opts.agentID)
	}

	agentID := opts.agentID
	if agentID == "" {
		agentID, err = pickOnlyAgent(ctx, restClient)
		if err != nil {
			return err
		}
	}

	plainMode := opts.plain || cfg.UI.Mode == "plain"

	c, err := client.New(client.Config{
		BaseURL:              cfg.Backend.BaseURL,
		Transport:            client.TransportKind(cfg.Backend.Transport),
		BackoffBase:          cfg.Backend.BackoffBase,
		MaxReconnectAttempts: cfg.Backend.MaxReconnectAttempts,
		CircuitThreshold:     cfg.Backend.CircuitThreshold,
		CircuitCooldown:      cfg.Backend.CircuitCooldown,
		Logger:               buildLogger(cfg, plainMode),
	}, tokens)
	if err != nil {
		return err
	}
	defer c.Close()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = c.Connect(connectCtx, agentID, opts.sessionID)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", agentID, err)
	}

	if plainMode {
		return runPlain(c, agentID, cfg.UI.Color)
	}
	return tui.Run(c, agentID)
}

// loadConfig reads the config file, or synthesizes a config from flags when
// the file is absent but -url was given.
func loadConfig(opts runOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if opts.baseURL == "" {
			return nil, fmt.Errorf("no usable config (%v); pass -url or create %s", err, opts.configPath)
		}
		cfg, err = config.Parse(fmt.Sprintf("[backend]\nbase_url = %q\n", opts.baseURL))
		if err != nil {
			return nil, err
		}
	}

	if opts.baseURL != "" {
		cfg.Backend.BaseURL = opts.baseURL
	}
	if opts.transport != "" {
		cfg.Backend.Transport = opts.transport
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func buildTokenSource(cfg *config.Config) *auth.TokenSource {
	var refresh auth.RefreshFunc
	if cfg.Auth.RefreshURL != "" {
		refresh = auth.HTTPRefresher(cfg.Auth.RefreshURL)
	}
	token := cfg.Auth.Token
	return auth.NewTokenSource(func() string { return token }, refresh, 0)
}

// buildLogger keeps client logs off the TUI's screen: they go to the
// configured file, or stderr in plain mode, or nowhere.
func buildLogger(cfg *config.Config, plainMode bool) *log.Logger {
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return log.New(f, "", log.LstdFlags)
		}
		fmt.Fprintf(os.Stderr, "ember: cannot open log file %s: %v\n", cfg.Logging.File, err)
	}
	if plainMode {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func printAgents(ctx context.Context, restClient *rest.Client) error {
	agents, err := restClient.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		fmt.Printf("%-16s %s", a.ID, a.Name)
		if a.Description != "" {
			fmt.Printf("  %s", a.Description)
		}
		fmt.Println()
	}
	return nil
}

func printSessions(ctx context.Context, restClient *rest.Client, agentID string) error {
	sessions, err := restClient.ListSessions(ctx, agentID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-24s %d turns  %s\n", s.ID, title, s.TurnCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func pickOnlyAgent(ctx context.Context, restClient *rest.Client) (string, error) {
	agents, err := restClient.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}
	switch len(agents) {
	case 0:
		return "", fmt.Errorf("backend has no agents")
	case 1:
		return agents[0].ID, nil
	default:
		return "", fmt.Errorf("multiple agents available, pick one with -agent (see -list-agents)")
	}
}

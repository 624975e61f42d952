// Command strand is the terminal client for the strand agent daemon: it keeps
// a local mirror of threads and messages in sync over WebSocket and REST.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/strandtui/strand/pkg/conductor"
	"github.com/strandtui/strand/pkg/config"
	"github.com/strandtui/strand/pkg/conn"
	"github.com/strandtui/strand/pkg/debugsrv"
	"github.com/strandtui/strand/pkg/dispatch"
	"github.com/strandtui/strand/pkg/history"
	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/store"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	hostFlag   string
	tokenFlag  string
	debugAddr  string
	noColor    bool
)

func usage() {
	fmt.Fprintf(os.Stderr, `strand %s - terminal sync client for the agent daemon

Usage:
  strand [flags] threads         list threads via REST
  strand [flags] attach          run the sync loop and print state transitions
  strand [flags] send <prompt>   stream one prompt and print the reply
  strand version                 print build information

Flags:
`, version)
	flag.PrintDefaults()
}

func main() {
	flag.StringVar(&configPath, "config", config.DefaultPath(), "config file path")
	flag.StringVar(&hostFlag, "host", "", "agent daemon host:port (overrides config)")
	flag.StringVar(&tokenFlag, "token", "", "bearer token (overrides config)")
	flag.StringVar(&debugAddr, "debug-addr", "", "debug sidecar listen address")
	flag.BoolVar(&noColor, "no-color", false, "disable colored output")
	flag.Usage = usage
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "strand: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing subcommand")
	}
	if args[0] == "version" {
		fmt.Printf("strand %s (commit %s, built %s)\n", version, commit, buildDate)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if hostFlag != "" {
		cfg.Connection.Host = hostFlag
	}
	if tokenFlag != "" {
		cfg.Connection.Token = tokenFlag
	}
	if debugAddr != "" {
		cfg.Debug.Addr = debugAddr
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	observability.SetLevel(level)

	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		termenv.SetDefaultOutput(termenv.NewOutput(os.Stdout, termenv.WithProfile(termenv.Ascii)))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "threads":
		return runThreads(ctx, cfg)
	case "attach":
		return runAttach(ctx, cfg)
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("send requires a prompt")
		}
		return runSend(ctx, cfg, args[1])
	default:
		usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runThreads(ctx context.Context, cfg *config.Config) error {
	client := conductor.NewClient(cfg.Connection.Host, cfg.Connection.Token, cfg.Connection.TLS)
	threads, err := client.ListThreads(ctx)
	if err != nil {
		return err
	}

	header := lipgloss.NewStyle().Bold(true)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\n", header.Render("ID"), header.Render("TITLE"), header.Render("UPDATED"))
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Title, t.UpdatedAt.Local().Format(time.RFC822))
	}
	return w.Flush()
}

// runAttach stands up the full engine: store seeded from history, WebSocket
// manager, dispatcher, optional debug sidecar. It prints state transitions
// until interrupted.
func runAttach(ctx context.Context, cfg *config.Config) error {
	tp, err := observability.NewTracerProvider("strand", version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	if err := config.WatchLogLevel(ctx, configPath); err != nil {
		observability.NewLogger("main").Warn("config watch unavailable", "error", err)
	}

	st := store.New()
	var hist *history.DB
	if !cfg.History.Disabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			observability.NewLogger("main").Warn("history unavailable", "error", err)
		} else {
			defer hist.Close()
			if err := hist.Seed(st); err != nil {
				observability.NewLogger("main").Warn("history seed failed", "error", err)
			}
		}
	}

	d := dispatch.New(st, nil, nil)
	manager := conn.NewManager(conn.Config{
		Host:       cfg.Connection.Host,
		Token:      cfg.Connection.Token,
		TLS:        cfg.Connection.TLS,
		MaxRetries: cfg.Connection.MaxRetries,
		MaxBackoff: cfg.Connection.MaxBackoff,
	}, nil)

	if cfg.Debug.Addr != "" {
		sidecar := debugsrv.New(cfg.Debug.Addr, st, manager)
		go func() {
			if err := sidecar.ListenAndServe(); err != nil {
				observability.NewLogger("main").Error("debug sidecar failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = sidecar.Shutdown(shutdownCtx)
		}()
	}

	frames, cancelFrames := manager.Messages()
	defer cancelFrames()
	go d.Run(ctx, frames)

	states, cancelStates := manager.WatchState()
	defer cancelStates()
	go func() {
		for s := range states {
			fmt.Printf("connection: %s\n", s)
		}
	}()

	client := conductor.NewClient(cfg.Connection.Host, cfg.Connection.Token, cfg.Connection.TLS)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// A nil return (peer closed with a reason) still ends the session.
		defer cancelRun()
		return manager.Run(gctx)
	})
	g.Go(func() error {
		// Periodic REST health probe feeds the liveness bit next to the
		// socket state.
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d.SetBackendHealthy(client.Health(gctx))
			}
		}
	})

	err = g.Wait()
	manager.Shutdown()
	if info, ok := manager.LastClose(); ok {
		fmt.Printf("server closed the connection: %s\n", info.Reason)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// runSend streams one prompt over REST and prints the assembled reply.
func runSend(ctx context.Context, cfg *config.Config, prompt string) error {
	st := store.New()
	d := dispatch.New(st, nil, nil)
	client := conductor.NewClient(cfg.Connection.Host, cfg.Connection.Token, cfg.Connection.TLS)

	pendingID := st.CreatePendingThread(prompt, store.KindConversation)
	req := store.WithThread(prompt, pendingID)

	d.MarkStreamStarted()
	if err := client.Stream(ctx, req, pendingID, d); err != nil {
		return err
	}

	realID := st.ResolveThreadID(pendingID)
	msgs := st.Messages(realID)
	if len(msgs) == 0 {
		return fmt.Errorf("stream produced no messages")
	}
	last := msgs[len(msgs)-1]
	fmt.Println(last.Display())
	if status := d.Status(); status.LastStreamError != "" {
		return fmt.Errorf("stream error: %s", status.LastStreamError)
	}
	return nil
}

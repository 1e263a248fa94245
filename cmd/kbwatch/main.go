// kbwatch follows knowledge-base realtime feeds and logs what arrives.
// Usage: go run ./cmd/kbwatch --config configs/kbwatch.example.yaml --task 42 --notifications
//
// The bearer token is read from the credential store named in the config,
// or from KBWATCH_TOKEN when set. Store one with --set-token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kb-realtime/internal/auth"
	"github.com/rickgao/kb-realtime/internal/config"
	"github.com/rickgao/kb-realtime/internal/connection"
	"github.com/rickgao/kb-realtime/internal/database"
	"github.com/rickgao/kb-realtime/internal/feeds"
	"github.com/rickgao/kb-realtime/internal/journal"
	"github.com/rickgao/kb-realtime/internal/version"
)

const tokenEnv = "KBWATCH_TOKEN"

func main() {
	configPath := flag.String("config", "configs/kbwatch.example.yaml", "path to config file")
	chapters := flag.String("chapter", "", "comma-separated chapter ids to follow")
	tasks := flag.String("task", "", "comma-separated task ids to follow")
	notifications := flag.Bool("notifications", false, "follow the notification stream")
	verbose := flag.Bool("verbose", false, "print full frame JSON and debug logs")
	setToken := flag.String("set-token", "", "store a bearer token in the credential store and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stdout, cfg.Logging, *verbose)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	store, err := auth.OpenFileStore(cfg.Auth.StorePath, cfg.Auth.TokenKey)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}

	if *setToken != "" {
		if err := store.SetToken(*setToken); err != nil {
			logger.Error("failed to store token", "error", err)
			os.Exit(1)
		}
		if exp, ok, err := auth.Expiry(*setToken); err == nil && ok {
			logger.Info("token stored", "path", store.Path(), "expires", exp)
		} else {
			logger.Info("token stored", "path", store.Path())
		}
		return
	}

	var source auth.TokenSource = store
	if os.Getenv(tokenEnv) != "" {
		source = auth.EnvToken(tokenEnv)
		logger.Info("using token from environment", "var", tokenEnv)
	}
	tokens := auth.Unexpired{Source: source}

	if err := run(cfg, tokens, watchList{
		chapters:      splitIDs(*chapters),
		tasks:         splitIDs(*tasks),
		notifications: *notifications,
		verbose:       *verbose,
	}, logger); err != nil {
		logger.Error("kbwatch failed", "error", err)
		os.Exit(1)
	}
}

// watchList is the set of feeds requested on the command line.
type watchList struct {
	chapters      []string
	tasks         []string
	notifications bool
	verbose       bool
}

func (w watchList) empty() bool {
	return len(w.chapters) == 0 && len(w.tasks) == 0 && !w.notifications
}

func run(cfg *config.WatcherConfig, tokens connection.TokenSource, w watchList, logger *slog.Logger) error {
	if w.empty() {
		return errors.New("nothing to watch: pass --chapter, --task or --notifications")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional event journal
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}

		jrnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := jrnl.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	// Create Connection Manager
	mgr := connection.NewManager(connectionConfig(cfg), tokens, logger,
		connection.WithHeader(http.Header{"User-Agent": {version.UserAgent()}}),
	)

	unsubscribe := mgr.OnFunc(feeds.EventProgress, func(fr connection.Frame) error {
		var p struct {
			Percent float64 `json:"percent"`
		}
		if err := fr.Decode(&p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		logger.Info("progress", "percent", p.Percent)
		return nil
	})
	defer unsubscribe()

	ws, err := openFeeds(mgr, w, jrnl, logger)
	if err != nil {
		mgr.DisconnectAll()
		if jrnl != nil {
			jrnl.Stop(context.Background())
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Handle signals
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	// Stats printer
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, mgr, ws, jrnl)
			}
		}
	})

	logger.Info("watching - press Ctrl+C to stop", "feeds", len(ws.all), "version", version.Version)

	g.Wait()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.DisconnectAll()
	if jrnl != nil {
		if err := jrnl.Stop(shutdownCtx); err != nil {
			logger.Warn("journal flush failed", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// watched holds the feeds opened for one run. tasks and notifications
// alias entries of all.
type watched struct {
	all           []*feeds.Feed
	tasks         []*feeds.TaskFeed
	notifications *feeds.NotificationFeed
}

// attrs reports per-feed state for the periodic stats line.
func (ws *watched) attrs() []any {
	var attrs []any
	for _, f := range ws.all {
		attrs = append(attrs, f.ID(), string(f.Status()))
	}
	for _, t := range ws.tasks {
		p := t.Progress()
		attrs = append(attrs,
			t.ID()+"_state", string(p.State),
			t.ID()+"_percent", p.Percent,
		)
	}
	if n := ws.notifications; n != nil {
		attrs = append(attrs, "notifications_unread", n.Unread())
		if recent := n.Recent(); len(recent) > 0 {
			attrs = append(attrs, "notifications_latest", recent[0].Event)
		}
	}
	return attrs
}

// openFeeds builds and opens every requested feed.
func openFeeds(mgr feeds.Connector, w watchList, jrnl *journal.Journal, logger *slog.Logger) (*watched, error) {
	ws := &watched{}
	out := newFramePrinter(os.Stdout, w.verbose, "terminal256")

	for _, id := range w.chapters {
		f := feeds.NewChapterFeed(mgr, id, printer("chapter:"+id, out, jrnl, logger))
		ws.all = append(ws.all, f)
	}
	for _, id := range w.tasks {
		t := feeds.NewTaskFeed(mgr, id, printer("task:"+id, out, jrnl, logger))
		ws.tasks = append(ws.tasks, t)
		ws.all = append(ws.all, t.Feed)
	}
	if w.notifications {
		n := feeds.NewNotificationFeed(mgr, feeds.DefaultNotificationLimit, printer("notifications", out, jrnl, logger))
		ws.notifications = n
		ws.all = append(ws.all, n.Feed)
	}

	for _, f := range ws.all {
		if err := f.Open(); err != nil {
			return nil, fmt.Errorf("open %s: %w", f.ID(), err)
		}
	}
	return ws, nil
}

// printer returns handlers that print frames for id and record them in
// the journal when one is configured.
func printer(id string, out *framePrinter, jrnl *journal.Journal, logger *slog.Logger) connection.Handlers {
	var record func(connection.Frame)
	if jrnl != nil {
		record = jrnl.Recorder(id)
	}

	return connection.Handlers{
		OnOpen: func() {
			logger.Info("feed open", "conn", id)
		},
		OnMessage: func(fr connection.Frame) {
			out.Print(id, fr)
			if record != nil {
				record(fr)
			}
		},
		OnClose: func(ev connection.CloseEvent) {
			logger.Info("feed closed", "conn", id, "code", ev.Code, "abnormal", ev.Abnormal())
		},
	}
}

func logStats(logger *slog.Logger, mgr *connection.Manager, ws *watched, jrnl *journal.Journal) {
	stats := mgr.Stats()
	attrs := []any{
		"tracked", stats.Tracked,
		"connected", stats.Connected,
		"pending_reconnects", stats.PendingReconnects,
		"frames_received", stats.FramesReceived,
		"frames_dropped", stats.FramesDropped,
	}
	attrs = append(attrs, ws.attrs()...)
	if jrnl != nil {
		js := jrnl.Stats()
		attrs = append(attrs,
			"journal_inserts", js.Inserts,
			"journal_queued", js.Queued,
			"journal_errors", js.Errors,
		)
	}
	logger.Info("stats", attrs...)
}

func connectionConfig(cfg *config.WatcherConfig) connection.Config {
	return connection.Config{
		BaseURL:              cfg.Server.WSURL,
		HeartbeatInterval:    cfg.Connections.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Connections.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Connections.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Connections.HandshakeTimeout,
		WriteTimeout:         cfg.Connections.WriteTimeout,
	}
}

func newLogger(w io.Writer, cfg config.LoggingConfig, verbose bool) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

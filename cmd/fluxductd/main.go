package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arsdragonfly/fluxduct/pkg/api"
	"github.com/arsdragonfly/fluxduct/pkg/blob"
	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/hub"
	"github.com/arsdragonfly/fluxduct/pkg/store"
	"github.com/arsdragonfly/fluxduct/pkg/transport/memory"
	redistransport "github.com/arsdragonfly/fluxduct/pkg/transport/redis"
	"github.com/arsdragonfly/fluxduct/pkg/transport/replay"
	"github.com/arsdragonfly/fluxduct/pkg/transport/socketio"
	"github.com/arsdragonfly/fluxduct/web"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxductd: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("system_started", "component", "fluxductd", "transport", cfg.Transport)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}

func newLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// source is an opened event source plus the pieces that depend on it.
type source struct {
	engine.Source
	ingest api.Ingestor // nil when events cannot be injected over HTTP
	close  func() error
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := hub.New(0, logger)
	go h.Run(ctx)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithListener(func(c engine.Change) {
			h.Broadcast(hub.Message{Name: "change", Data: c})
		}),
	}

	var (
		journal *store.Store
		archive blob.Store
	)
	if cfg.ArchiveDir != "" {
		archive = blob.NewLocalStore(cfg.ArchiveDir)
		logger.Info("archive_enabled", "dir", cfg.ArchiveDir)
	}
	if cfg.JournalPath != "" {
		var err error
		journal, err = store.NewStore(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("failed_to_close_journal", "error", err)
			} else {
				logger.Info("journal_closed")
			}
		}()
		logger.Info("journal_opened", "path", cfg.JournalPath)

		keep := ""
		if cfg.Transport != "replay" {
			session, err := journal.BeginSession(ctx, cfg.Transport)
			if err != nil {
				return fmt.Errorf("failed to begin journal session: %w", err)
			}
			keep = session.ID()
			opts = append(opts, engine.WithRecorder(session))
			logger.Info("journal_session_started", "session_id", keep)
		}
		if cfg.Retention > 0 {
			w := store.NewPruneWorker(journal, cfg.Retention, cfg.PruneInterval, keep, logger)
			if archive != nil {
				w.WithArchive(archive)
			}
			go w.Run(ctx)
		}
	}

	src, err := openSource(ctx, cfg, journal, archive, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.close(); err != nil {
			logger.Error("failed_to_close_source", "error", err)
		}
	}()

	syncer := engine.NewSynchronizer(opts...)

	snapDone := make(chan struct{})
	if archive != nil && cfg.SnapshotEvery > 0 {
		go func() {
			defer close(snapDone)
			engine.NewSnapshotWorker(syncer, archive, cfg.SnapshotEvery, logger).Run(ctx)
		}()
	} else {
		close(snapDone)
	}

	srv := api.NewServer(syncer, cfg.Addr, logger)
	srv.SetTransport(cfg.Transport)
	srv.SetStream(h)
	if src.ingest != nil {
		srv.SetIngest(src.ingest)
	}
	if journal != nil {
		srv.SetJournal(journal)
	}
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}
	assets, err := webAssets(cfg)
	if err != nil {
		return err
	}
	if assets != nil {
		srv.SetStaticFS(assets)
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	runErr := make(chan error, 1)
	go func() { runErr <- syncer.Run(ctx, src) }()

	// A finished stream leaves the last state readable until shutdown.
	var result error
	for done := false; !done; {
		select {
		case <-ctx.Done():
			logger.Info("shutdown_initiated", "reason", ctx.Err())
			done = true
		case err := <-srvErr:
			result = err
			done = true
		case err := <-runErr:
			if err != nil {
				result = err
				done = true
			} else {
				logger.Info("synchronizer_finished", "revision", syncer.Revision())
				runErr = nil
			}
		}
	}

	syncer.Close()
	cancel()
	<-snapDone
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("failed_to_stop_server", "error", err)
	}
	return result
}

func openSource(ctx context.Context, cfg Config, journal *store.Store, archive blob.Store, logger *slog.Logger) (source, error) {
	noop := func() error { return nil }

	switch cfg.Transport {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return source{}, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis_connected", "addr", cfg.RedisAddr)
		return source{
			Source: redistransport.NewSource(client,
				redistransport.WithChannels(cfg.RedisEvents, cfg.RedisControl),
				redistransport.WithBuffer(cfg.Buffer),
				redistransport.WithLogger(logger),
			),
			ingest: redistransport.NewPublisher(client, cfg.RedisEvents, cfg.RedisControl),
			close:  client.Close,
		}, nil

	case "socketio":
		s, err := socketio.Dial(ctx, socketio.Config{
			URL:                cfg.SocketIOURL,
			Namespace:          cfg.SocketIONamespace,
			InsecureSkipVerify: cfg.SocketIOInsecure,
			Buffer:             cfg.Buffer,
		}, logger)
		if err != nil {
			return source{}, err
		}
		return source{Source: s, close: s.Close}, nil

	case "replay":
		session := cfg.ReplaySession
		switch {
		case session == defaultReplaySession:
			latest, err := journal.LatestSession(ctx)
			if err != nil {
				return source{}, fmt.Errorf("failed to find latest session: %w", err)
			}
			session = latest
		case strings.HasSuffix(session, store.ArchiveSuffix):
			restored, n, err := journal.Restore(ctx, archive, session)
			if err != nil {
				return source{}, fmt.Errorf("failed to restore archived session: %w", err)
			}
			logger.Info("archive_restored", "key", cfg.ReplaySession, "session_id", restored, "events", n)
			session = restored
		}
		logger.Info("replay_selected", "session_id", session)
		return source{
			Source: replay.NewSource(journal, session,
				replay.WithPace(cfg.ReplayPace),
				replay.WithLogger(logger),
			),
			close: noop,
		}, nil

	default:
		bus := memory.NewBus(cfg.Buffer)
		return source{Source: bus, ingest: bus, close: noop}, nil
	}
}

func webAssets(cfg Config) (fs.FS, error) {
	switch cfg.WebAssetsMode {
	case "embedded":
		assets, err := web.Assets()
		if err != nil {
			return nil, fmt.Errorf("failed to load embedded web assets: %w", err)
		}
		return assets, nil
	case "fs":
		return os.DirFS(cfg.WebDir), nil
	}
	return nil, nil
}

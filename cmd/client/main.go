package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/loggo"

	"ailearning/client/internal/app"
	"ailearning/client/internal/config"
	"ailearning/client/internal/durable"
	internalhttp "ailearning/client/internal/http"
	"ailearning/client/internal/jobs"
	"ailearning/client/internal/metrics"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := loggo.ConfigureLoggers("<root>=" + cfg.LogLevel); err != nil {
		log.Printf("log level %q ignored: %v", cfg.LogLevel, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := durable.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("durable store init failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("durable store close error: %v", err)
		}
	}()

	transport, transportCloser, err := app.NewTransport(cfg)
	if err != nil {
		log.Fatalf("push transport init failed: %v", err)
	}
	defer func() {
		if err := transportCloser.Close(); err != nil {
			log.Printf("push transport close error: %v", err)
		}
	}()

	m := metrics.New()
	term := newTerminal(os.Stdout, cfg.OpenBrowser)
	client, err := app.New(app.Options{
		Config:    cfg,
		Store:     store,
		Transport: transport,
		Metrics:   m,
		Notifier:  term,
		Navigator: term,
	})
	if err != nil {
		log.Fatalf("client init failed: %v", err)
	}
	defer client.Close()

	if id, ok, err := client.Start(ctx); err != nil {
		log.Printf("session restore failed: %v", err)
	} else if ok {
		term.printf("resumed session for %s (%s)\n", id.Principal(), id.Role)
	}
	jobs.StartNotificationResyncJob(ctx, cfg, nil, client)

	server := internalhttp.NewServer(client.Landing, snapshotOf(client), m.Handler())
	httpServer := &http.Server{
		Addr:              cfg.CallbackHTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("callback pages listening on %s", cfg.CallbackHTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go func() {
		sh := &shell{app: client, term: term}
		if err := sh.run(ctx, os.Stdin); err != nil {
			log.Printf("input error: %v", err)
		}
		stop()
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func snapshotOf(client *app.App) internalhttp.SnapshotFunc {
	return func() internalhttp.Snapshot {
		id, ok := client.Session.Current()
		snap := internalhttp.Snapshot{
			Authenticated: ok,
			UserID:        id.UserID,
			Role:          id.Role,
			Connected:     client.Channel.Connected(),
			Unread:        client.Notifications.Store().UnreadCount(),
			Notifications: client.Notifications.Store().List(),
			Progress:      client.Progress.Store().List(),
		}
		if balance, known := client.Wallet.Reconciler().Balance(); known {
			snap.Balance = &balance
		}
		return snap
	}
}

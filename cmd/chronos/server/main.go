package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/chronos/pkg/api"
	"github.com/astromechza/chronos/pkg/config"
	"github.com/astromechza/chronos/pkg/events"
	"github.com/astromechza/chronos/pkg/notify"
	"github.com/astromechza/chronos/pkg/realtime"
	"github.com/astromechza/chronos/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	defaultConfig := "chronos.yaml"
	if v := os.Getenv("CHRONOS_CONFIG"); v != "" {
		defaultConfig = v
	}
	configVar := flag.String("config", defaultConfig, "path to a yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Listen = *addrVar
	}
	slog.SetDefault(slog.New(cfg.Log.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Opening database", "driver", cfg.Database.Driver)
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := realtime.NewHub(
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
		realtime.WithWriteTimeout(cfg.Realtime.WriteTimeout),
		realtime.WithPingInterval(cfg.Realtime.PingInterval),
	)
	wg := new(sync.WaitGroup)

	publishers := events.Publishers{hub}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		bg := events.NewBackground("telegram", tg, notify.SendTimeout)
		publishers = append(publishers, bg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bg.Run(ctx)
		}()
	}

	dispatcher := events.NewDispatcher(st, publishers, cfg.Broadcast.QueueSize)
	service := events.NewService(st, dispatcher)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher stopped", "err", err)
		}
	}()

	if cfg.Broadcast.Resync != "" {
		c, err := dispatcher.ScheduleResync(ctx, cfg.Broadcast.Resync)
		if err != nil {
			return err
		}
		defer c.Stop()
	}

	httpServer := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewHandler(service, api.Options{
			Realtime:       hub,
			RealtimePath:   cfg.Realtime.Path,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Listen, "realtime", cfg.Realtime.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server listen failed: %w", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err = <-serveErr:
	}

	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		slog.Error("failed to shut down cleanly", "err", serr)
		_ = httpServer.Close()
	}
	cancel()
	wg.Wait()
	return err
}

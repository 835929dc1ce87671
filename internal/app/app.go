// Package app wires the bot together and runs the update dispatch loop.
package app

import (
	"context"
	"fmt"
	"runtime/debug"

	"castbot/internal/admin"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/roster"
	"castbot/internal/store"
	"castbot/internal/transport"
	"castbot/internal/transport/telegram"
	"castbot/pkg/logx"
)

const updateQueueSize = 64

type App struct {
	cfg *config.Config
	log logx.Logger

	logSvc     *logx.Service
	store      *store.Store
	adapter    *telegram.Adapter
	controller *admin.Controller

	updates chan transport.Update
	stopped chan struct{}
}

func New(cfg *config.Config) (*App, error) {
	logSvc, log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeoutDur(),
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeoutDur(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Warnings and errors also land in the admin chat.
	logSvc.AttachTelegram(func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
		return err
	}, cfg.Telegram.AdminID)

	rm := roster.New(st, ad, log.With(logx.String("comp", "roster")))
	eng := broadcast.New(ad, st, log.With(logx.String("comp", "broadcast")))
	ctrl := admin.New(cfg.Telegram.AdminID, st, rm, eng, ad, log.With(logx.String("comp", "admin")))

	return &App{
		cfg:        cfg,
		log:        log,
		logSvc:     logSvc,
		store:      st,
		adapter:    ad,
		controller: ctrl,
		updates:    make(chan transport.Update, updateQueueSize),
		stopped:    make(chan struct{}),
	}, nil
}

// Start launches polling and the single dispatch goroutine. Handling one
// update at a time keeps store access free of in-process races; the store
// serializes writes at the connection level besides.
func (a *App) Start(ctx context.Context) error {
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}
	go func() {
		defer close(a.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case up := <-a.updates:
				a.dispatch(ctx, up)
			}
		}
	}()
	a.log.Info("bot started", logx.Int64("admin_id", a.cfg.Telegram.AdminID))
	return nil
}

// dispatch handles one update; a panic in a handler is logged and must not
// take the process down.
func (a *App) dispatch(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in update handler",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	a.controller.HandleUpdate(ctx, up)
}

func (a *App) Stop(ctx context.Context) error {
	err := a.adapter.Stop(ctx)
	select {
	case <-a.stopped:
	case <-ctx.Done():
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.logSvc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eniggman/geminigram/internal/access"
	"github.com/eniggman/geminigram/internal/activity"
	"github.com/eniggman/geminigram/internal/dispatch"
	"github.com/eniggman/geminigram/internal/gemini"
	"github.com/eniggman/geminigram/internal/maintenance"
	"github.com/eniggman/geminigram/internal/queue"
	"github.com/eniggman/geminigram/internal/session"
	"github.com/eniggman/geminigram/internal/status"
	"github.com/eniggman/geminigram/internal/telegram"
	"github.com/eniggman/geminigram/internal/youtube"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the geminigram daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "geminigram.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is not configured (telegram.token or TELEGRAM_BOT_TOKEN)")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborators
	ai, err := gemini.New(ctx, cfg.Gemini.APIKey, gemini.Models{
		TextPro:    cfg.Gemini.TextPro,
		TextFlash:  cfg.Gemini.TextFlash,
		ImagePro:   cfg.Gemini.ImagePro,
		ImageFlash: cfg.Gemini.ImageFlash,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}

	truncator, err := youtube.NewTruncator(cfg.Transcript.MaxTokens)
	if err != nil {
		return fmt.Errorf("create transcript truncator: %w", err)
	}

	log := activity.NewLog(filepath.Join(cfg.DataDir, "activity.json"), time.Local)
	defer func() {
		if err := log.Flush(); err != nil {
			slog.Warn("activity flush failed", "error", err)
		}
	}()

	users := access.NewList(filepath.Join(cfg.DataDir, "users.json"), cfg.AdminID, cfg.AllowedUsers)
	store := session.NewStore(ai.NewChat)

	q := queue.New(int64(cfg.MaxConcurrent))
	q.Start(ctx)
	defer q.Stop()

	adapter, err := telegram.New(cfg.Telegram.Token, telegram.Deps{
		Store:    store,
		Access:   users,
		Queue:    q,
		Activity: log,
		Models: gemini.Models{
			TextPro:    cfg.Gemini.TextPro,
			TextFlash:  cfg.Gemini.TextFlash,
			ImagePro:   cfg.Gemini.ImagePro,
			ImageFlash: cfg.Gemini.ImageFlash,
		},
	})
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Store:           store,
		AI:              ai,
		Transcripts:     youtube.NewClient(),
		Truncate:        truncator.Truncate,
		TranscriptLangs: cfg.Transcript.Languages,
		Responder:       adapter,
		Activity:        log,
		AdminID:         cfg.AdminID,
	})
	adapter.SetDispatcher(dispatcher)

	sched := maintenance.New(log, store, time.Local)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.HTTP.Enabled {
		srv := status.NewServer(log, store)
		go func() {
			if err := status.Run(ctx, cfg.HTTP.Listen, srv); err != nil {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	go func() {
		if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("telegram adapter stopped", "error", err)
		}
	}()

	slog.Info("geminigram started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"text_pro", cfg.Gemini.TextPro,
		"text_flash", cfg.Gemini.TextFlash,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

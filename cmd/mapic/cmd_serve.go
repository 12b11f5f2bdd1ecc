package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/mapic/internal/bridge"
	"github.com/user/mapic/internal/scheduler"
	"github.com/user/mapic/internal/telegram"
)

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config bridge.listen)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local bridge API for a UI process",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "mapic.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	// Sign in up front when a user is configured; otherwise the UI signs in
	// through POST /api/session.
	if uid, err := a.userID(); err == nil {
		if err := a.sync.SignIn(ctx, uid); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	} else {
		slog.Info("no user configured, waiting for sign-in", "reason", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	listen := cfg.Bridge.Listen
	if serveListen != "" {
		listen = serveListen
	}

	srv := bridge.NewServer(bridge.Deps{
		Core:     a.sync,
		Verifier: a.verifier,
		Journal:  a.activity,
		Logger:   slog.Default(),
	})
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Periodic history refresh
	if cfg.History.RefreshSchedule != "" {
		sched := scheduler.New(a.sync, cfg.History.RefreshSchedule, cfg.Timeout())
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		allowed, err := cfg.TelegramAllowedUsers()
		if err != nil {
			return err
		}
		adapter, err := telegram.New(cfg.Telegram.Token, a.sync, cfg.DefaultModel, allowed)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		tgCtx, stopTelegram := context.WithCancel(ctx)
		tgDone := make(chan struct{})
		go func() {
			defer close(tgDone)
			adapter.Start(tgCtx)
		}()
		defer func() {
			stopTelegram()
			<-tgDone
		}()
		slog.Info("telegram adapter started")
	} else {
		slog.Debug("telegram adapter disabled (no token)")
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("mapic bridge started",
		"listen", listen,
		"api", cfg.API.BaseURL,
		"data_dir", cfg.DataDir,
		"pid_file", pidFile,
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("bridge server: %w", err)
			}
			return nil
		case <-ctx.Done():
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case <-hup:
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Release the listener and PID file before re-exec
			httpServer.Close()
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				return fmt.Errorf("re-exec: %w", err)
			}
		}
	}
}

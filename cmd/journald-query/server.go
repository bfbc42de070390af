package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/journald-query/internal/httpserver"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/otlpexport"
	"github.com/tinytelemetry/journald-query/internal/reader"
	"github.com/tinytelemetry/journald-query/internal/socketrpc"
	"github.com/tinytelemetry/journald-query/internal/tail"
)

// runServer serves the HTTP API, the socket RPC API and shared live tails
// until parent is done or the process is signalled.
func runServer(parent context.Context, cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	loc := cfg.location()
	rd := reader.New(nil, loc, cfg.discoverOptions())

	hub := tail.NewHub(nil, loc, tail.HubOptions{
		PollInterval: cfg.PollInterval,
		StartOffset:  cfg.StartOffset,
		Buffer:       cfg.TailBuffer,
	})
	defer hub.Close()

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, rd, hub)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	socketUp := false
	if cfg.SocketEnabled {
		sockServer := socketrpc.NewServer(cfg.SocketPath, rd)
		if err := sockServer.Start(); err != nil {
			log.Printf("Warning: failed to start socket server: %v", err)
		} else {
			socketUp = true
			defer sockServer.Stop()
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.OTLPEndpoint != "" {
		conn, err := otlpexport.Dial(cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer conn.Close()

		t, err := tail.Open(model.NewTailConfig("", "", loc).
			WithPollInterval(cfg.PollInterval).
			WithStartOffset(cfg.StartOffset))
		if err != nil {
			return fmt.Errorf("failed to open forwarding tail: %w", err)
		}
		// Closed after g.Wait, once the forwarder no longer reads it.
		defer t.Close()

		fwd := otlpexport.NewForwarder(conn, cfg.otlpOptions())
		g.Go(func() error {
			return fwd.ForwardTail(gctx, t)
		})
	}

	printStartupBanner(cfg, socketUp)

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("server: errgroup exited with error: %v", err)
		return err
	}
	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "journald-query")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "journald-query.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, socketUp bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(on bool, label, value string) string {
		mark := dot
		if on {
			mark = check
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, "    "+cyan.Bold(true).Render("journald-query"))
	lines = append(lines, "    "+dim.Render("v"+version))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	if cfg.APIEnabled {
		lines = append(lines, row(true, "HTTP API", cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, row(false, "HTTP API", dim.Render("disabled")))
	}
	switch {
	case socketUp:
		lines = append(lines, row(true, "Unix Socket", cyan.Render(shortenPath(cfg.SocketPath))))
	case cfg.SocketEnabled:
		lines = append(lines, row(false, "Unix Socket", dim.Render("unavailable (see log)")))
	default:
		lines = append(lines, row(false, "Unix Socket", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Journal"))
	lines = append(lines, "")
	lines = append(lines, row(true, "Location", dim.Render(shortenPath(cfg.location().String()))))
	lines = append(lines, row(true, "Discovery", dim.Render(fmt.Sprintf("%s, %d worker(s)", cfg.discoverOptions().Strategy, cfg.DiscoverWorkers))))
	lines = append(lines, row(true, "Live Tail", dim.Render(fmt.Sprintf("poll %s, start -%s", cfg.PollInterval, cfg.StartOffset))))
	if cfg.OTLPEndpoint != "" {
		lines = append(lines, row(true, "OTLP Forward", cyan.Render(cfg.OTLPEndpoint)))
	} else {
		lines = append(lines, row(false, "OTLP Forward", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/library-chat/internal/auth"
	"github.com/rickgao/library-chat/internal/chat"
	"github.com/rickgao/library-chat/internal/config"
	"github.com/rickgao/library-chat/internal/connection"
	"github.com/rickgao/library-chat/internal/dispatch"
	"github.com/rickgao/library-chat/internal/model"
	"github.com/rickgao/library-chat/internal/version"
)

// errInputClosed ends the client when stdin reaches EOF.
var errInputClosed = errors.New("input closed")

func main() {
	configPath := flag.String("config", "configs/chatclient.local.yaml", "path to config file (empty for env only)")
	user := flag.String("user", "", "sender id (defaults to chat.sender_id, then the token subject)")
	flag.Parse()

	// Bootstrap logger until the config is read
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting chat client",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"url", cfg.Chat.URL,
	)

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	var creds *auth.Credentials
	if cfg.Chat.AccessToken != "" || cfg.Chat.AccessTokenPath != "" {
		creds, err = auth.LoadCredentials(cfg.Chat.AccessToken, cfg.Chat.AccessTokenPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		if creds.Expired(time.Now()) {
			logger.Warn("access token has expired", "expires_at", creds.ExpiresAt)
		}
		for k, v := range creds.Header() {
			header[k] = v
		}
	}

	sender := resolveSender(*user, cfg.Chat.SenderID, creds)
	if sender == "" {
		logger.Warn("no sender id configured, sending is disabled")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	dialer := connection.NewWSDialer(cfg.TransportSettings(header), logger)
	session := chat.New(cfg.SessionSettings(), dialer, logger)
	defer session.CloseChat()

	out := os.Stdout
	session.OnStateChange(func(ev model.StateEvent) {
		fmt.Fprintf(out, "* %s\n", ev.New)
	})

	if err := openChat(ctx, session, out); err != nil {
		logger.Error("failed to open chat", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Health.Addr != "" {
		healthServer := &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           newHealthHandler(session),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "addr", cfg.Health.Addr)
			if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return healthServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return readInput(gctx, os.Stdin, session, sender, out, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errInputClosed) {
		logger.Error("chat client failed", "error", err)
	}

	session.CloseChat()
	logger.Info("chat client stopped")
}

type chatOpener interface {
	OpenChat(ctx context.Context, onMessage func(model.ChatMessage), onHistory func([]model.ChatMessage)) error
	CloseChat()
}

// openChat opens the session and prints history and live messages to out.
// On failure the session is closed before the error is returned.
func openChat(ctx context.Context, session chatOpener, out io.Writer) error {
	err := session.OpenChat(ctx,
		func(msg model.ChatMessage) {
			fmt.Fprintln(out, msg)
		},
		func(history []model.ChatMessage) {
			fmt.Fprintf(out, "--- %d messages ---\n", len(history))
			for _, msg := range history {
				fmt.Fprintln(out, msg)
			}
		},
	)
	if err != nil {
		session.CloseChat()
		return err
	}
	return nil
}

// newLogger builds the slog handler selected by the config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveSender picks the sender id: flag, then config, then token subject.
func resolveSender(flagValue, configValue string, creds *auth.Credentials) string {
	switch {
	case flagValue != "":
		return flagValue
	case configValue != "":
		return configValue
	case creds != nil:
		return creds.Subject
	default:
		return ""
	}
}

type messageSender interface {
	SendChatMessage(ctx context.Context, senderID, body string) error
}

// readInput sends every stdin line until ctx is done or input ends.
func readInput(ctx context.Context, r io.Reader, s messageSender, sender string, out io.Writer, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return errInputClosed
		case line := <-lines:
			if sender == "" {
				fmt.Fprintln(out, "! sending is disabled: no sender id")
				continue
			}
			err := s.SendChatMessage(ctx, sender, line)
			switch {
			case err == nil:
			case errors.Is(err, dispatch.ErrEmptyMessage):
			case dispatch.IsNotConnected(err):
				fmt.Fprintln(out, "! not connected, message not sent")
			default:
				logger.Warn("send failed", "error", err)
				fmt.Fprintf(out, "! send failed: %v\n", err)
			}
		}
	}
}

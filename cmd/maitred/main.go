package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ymansouri/maitred/internal/app"
	"github.com/ymansouri/maitred/internal/config"
	"github.com/ymansouri/maitred/internal/httpapi"
	"github.com/ymansouri/maitred/internal/reliability"
	"github.com/ymansouri/maitred/internal/transport"
)

var (
	flagTransport   string
	flagPort        int
	flagConfigURL   string
	flagIdleTimeout int
)

var rootCmd = &cobra.Command{
	Use:   "maitred",
	Short: "Voice ordering assistant for phone and browser calls",
	Long: `maitred answers restaurant orders over a realtime voice call. It
streams caller audio to speech recognition, generates a reply with an LLM,
and speaks it back through streaming synthesis.

Callers connect over one of three transports: a browser peer connection
(webrtc), a Daily room (daily), or a Twilio phone call (twilio).`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flagTransport, "transport", "", "transport to serve: webrtc, daily, or twilio")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP listen port")
	rootCmd.Flags().StringVar(&flagConfigURL, "config-url", "", "room config endpoint for the daily transport")
	rootCmd.Flags().IntVar(&flagIdleTimeout, "idle-timeout", 0, "close sessions after this many seconds of caller silence")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(flagTransport))
	}
	if cmd.Flags().Changed("port") {
		cfg.BindAddr = fmt.Sprintf(":%d", flagPort)
	}
	if cmd.Flags().Changed("config-url") {
		cfg.ConfigURL = flagConfigURL
	}
	if cmd.Flags().Changed("idle-timeout") {
		cfg.IdleTimeout = time.Duration(flagIdleTimeout) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	a, cleanup, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a.Sessions.StartJanitor(runCtx, 5*time.Second)

	api := httpapi.New(cfg, a.Sessions, a.Store, a)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("serving %s transport on %s", cfg.Transport, cfg.BindAddr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", serveErr)
		}
	}()

	// The daily transport dials out to its room instead of waiting for an
	// inbound call; reconnect until shutdown.
	if cfg.Transport == transport.KindDaily {
		go serveDaily(runCtx, a, cfg.ConfigURL, cfg.DailyAPIKey)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}

func serveDaily(ctx context.Context, a *app.App, configURL, apiKey string) {
	attempt := 0
	for ctx.Err() == nil {
		conn, err := transport.DialDaily(ctx, configURL, apiKey)
		if err != nil {
			attempt++
			wait := reliability.ExponentialBackoff(attempt, time.Second, 30*time.Second)
			log.Printf("daily: join failed (retry in %s): %v", wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		if err := a.RunConn(ctx, conn); err != nil {
			log.Printf("daily: session error: %v", err)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main runs the ReviewPilot agent: it drives a browser to the
// review-management surface, injects AI-reply controls next to reply
// inputs, and relays generation requests for contained frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/config"
	"github.com/guillefidelio/reviewpilot/pkg/engine"
	"github.com/guillefidelio/reviewpilot/pkg/engine/controller"
	"github.com/guillefidelio/reviewpilot/pkg/generate"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
	"github.com/guillefidelio/reviewpilot/pkg/relay"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	URL         string
	APIKey      string
	BaseURL     string
	Model       string
	ConfigFile  string
	PolicyFile  string
	RelayToken  string
	Headless    bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("ReviewPilot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.URL, "url", "", "Review-management page URL to attach to (required)")
	flag.StringVar(&cli.APIKey, "api-key", "", "OpenAI API key (falls back to OPENAI_API_KEY, then config)")
	flag.StringVar(&cli.BaseURL, "base-url", "", "OpenAI-compatible API base URL")
	flag.StringVar(&cli.Model, "model", "", "Model for reply generation")
	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (JSON)")
	flag.StringVar(&cli.PolicyFile, "policy", "", "Path to keyword policy file (YAML)")
	flag.StringVar(&cli.RelayToken, "relay-token", "", "Relay auth token (generated when empty)")
	flag.BoolVar(&cli.Headless, "headless", false, "Run the browser headless")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ReviewPilot - AI review-reply assistant\n\n")
		fmt.Fprintf(os.Stderr, "Usage: reviewpilot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  reviewpilot -url https://business.google.com/reviews\n")
		fmt.Fprintf(os.Stderr, "  reviewpilot -url https://business.google.com/reviews -model gpt-4o\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	if cli.URL == "" {
		flag.Usage()
		return fmt.Errorf("-url is required")
	}

	if err := config.Initialize(cli.ConfigFile); err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	tunables := config.GetEngine().Snapshot()

	policy := config.DefaultPolicy()
	if cli.PolicyFile != "" {
		loaded, err := config.LoadPolicy(cli.PolicyFile)
		if err != nil {
			return fmt.Errorf("policy load failed: %w", err)
		}
		policy = loaded
	}

	logger, err := logging.NewLogger("reviewpilot")
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	defer logger.Close()
	logger.Infof("ReviewPilot v%s starting, session %s", version, logger.SessionID())

	provider, err := generate.BuildProvider(cli.Model, cli.BaseURL, cli.APIKey, config.GetLLM())
	if err != nil {
		return err
	}
	logger.Infof("generation provider ready, model %s", provider.Model())

	manager := browser.NewSessionManager()
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("browser initialization failed: %w", err)
	}
	defer manager.Shutdown()

	session, err := manager.StartSession("main", browser.SessionOptions{Headless: cli.Headless})
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	if err := session.Navigate(cli.URL, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
		return err
	}
	logger.Infof("attached to %s", session.URL())

	relayToken := cli.RelayToken
	if relayToken == "" {
		relayToken = uuid.New().String()
	}
	relayServer := relay.NewServer(tunables.RelayListenAddr, relayToken, func(ctx context.Context, req *generate.Request) *generate.Result {
		result, err := provider.Generate(ctx, req)
		if err != nil {
			return &generate.Result{
				Success:    false,
				Error:      err.Error(),
				ErrorClass: generate.ClassifyError(err),
			}
		}
		return result
	}, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return relayServer.ListenAndServe(groupCtx)
	})

	group.Go(func() error {
		// Contained frames route through the relay so the host side can
		// dedupe doubled observations of one click.
		relayClient := relay.NewClient(tunables.RelayListenAddr, relayToken, relay.Hello{FrameURL: session.URL()}, logger)
		var relayedGen generate.Generator
		if err := connectWithRetry(groupCtx, relayClient); err != nil {
			logger.Warnf("relay unavailable, contained frames will generate directly: %v", err)
			relayedGen = provider
		} else {
			defer relayClient.Close()
			relayedGen = relay.NewGenerator(relayClient)
		}

		eng := engine.New(session, engine.Options{
			Tunables:         tunables,
			Policy:           policy,
			Generator:        provider,
			RelayedGenerator: relayedGen,
			Notifier:         controller.NewPageNotifier(logger, 4000),
		}, logger)

		if err := eng.Attach(groupCtx); err != nil {
			return fmt.Errorf("engine attach failed: %w", err)
		}
		defer eng.Detach()

		<-groupCtx.Done()
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := manager.CleanupIdleSessions(); err != nil {
					logger.Warnf("idle session cleanup failed: %v", err)
				}
			}
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Infof("shutdown complete")
	return nil
}

// connectWithRetry gives the relay server a moment to bind before the
// client dials it.
func connectWithRetry(ctx context.Context, client *relay.Client) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if err := client.Connect(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return lastErr
}

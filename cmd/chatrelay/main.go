package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatrelay/internal/api"
	"chatrelay/internal/client"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/persona"
	"chatrelay/internal/provider"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "ChatRelay: streaming chat relay with durable conversation history",
		Long:  "ChatRelay streams completion tokens from an upstream provider to clients as newline-delimited JSON frames, persisting every turn in SQLite.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

func applyLogLevel(level string) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefaults()
	applyLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	defer st.Close()

	presets, err := persona.LoadPresets(cfg.Persona.PresetsPath, logger)
	if err != nil {
		return err
	}

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:    cfg.Provider.APIKey,
		APIBase:   cfg.Provider.APIBase,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
		Logger:    logger,
	})
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	engine := relay.New(relay.Config{
		Store:        st,
		Provider:     prov,
		Logger:       logger,
		Metrics:      metrics.NewRelayMetrics(collectorOrDiscard(collector)),
		HistoryLimit: cfg.History.Limit,
	})

	handler := api.NewHandler(engine, st, presets, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, collector),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, forcing exit", "err", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// collectorOrDiscard keeps the engine's metrics handle valid when /metrics
// is disabled.
func collectorOrDiscard(c *metrics.Collector) *metrics.Collector {
	if c != nil {
		return c
	}
	return metrics.NewCollector()
}

func chatCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			if serverURL == "" {
				serverURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			apiKey := os.Getenv("CHATRELAY_API_KEY")
			if apiKey == "" {
				apiKey = cfg.Provider.APIKey
			}
			if apiKey == "" {
				return errors.New("no API key: set CHATRELAY_API_KEY or provider.apiKey in the config")
			}
			return runChat(cmd.Context(), client.New(serverURL, apiKey))
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "relay base URL (default from config)")
	return cmd
}

func runChat(ctx context.Context, cli *client.Client) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("ChatRelay interactive chat. Type a message, or /quit to exit.")

	var conversationID string
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		stream, err := cli.StreamTurn(ctx, client.TurnInput{
			ConversationID: conversationID,
			Message:        line,
		})
		if err != nil {
			printTurnError(err)
			continue
		}

		for {
			f, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				printTurnError(err)
				break
			}
			switch f.Type {
			case relay.FrameChunk:
				fmt.Print(f.Content)
				if conversationID == "" {
					conversationID = f.ConversationID
				}
			case relay.FrameDone:
				if conversationID == "" {
					conversationID = f.ConversationID
				}
				fmt.Println()
			case relay.FrameError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", f.Error)
			}
		}
		stream.Close()
	}
}

func printTurnError(err error) {
	var te *client.TurnError
	if errors.As(err, &te) {
		retry := ""
		if te.Retryable {
			retry = " (you can retry)"
		}
		fmt.Fprintf(os.Stderr, "error [%s]: %s%s\n", te.Kind, te.Message, retry)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
			cli := client.New(base, cfg.Provider.APIKey)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if err := cli.Health(ctx); err != nil {
				logger.Info("relay", "addr", base, "reachable", false, "err", err)
				return nil
			}
			logger.Info("relay", "addr", base, "reachable", true)

			convs, err := cli.ListConversations(ctx)
			if err != nil {
				return err
			}
			logger.Info("conversations", "count", len(convs))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("chatrelay " + version)
		},
	}
}

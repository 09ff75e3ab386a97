package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"poerelay/internal/auth"
	"poerelay/internal/chatbot"
	"poerelay/internal/config"
	"poerelay/internal/llm"
	"poerelay/internal/logging"
	"poerelay/internal/observability"
	"poerelay/internal/paramstore"
	"poerelay/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("poe-relay exited", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:           "poe-relay",
		Short:         "Poe bot server that relays queries to X.AI as server-sent events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, envPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&envPath, "env-file", ".env", "path to a .env file (ignored when missing)")
	return cmd
}

func run(ctx context.Context, configPath, envPath string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)
	if logging.ParseLevel(cfg.Log.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer(cfg.Tracing.ServiceName, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown", "err", err)
			}
		}()
	}

	apiKey, err := resolveAPIKey(ctx, cfg.Upstream)
	if err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	retry := llm.RetryPolicy{
		MaxAttempts:     cfg.Upstream.Retry.MaxAttempts,
		InitialInterval: cfg.Upstream.Retry.InitialInterval,
		MaxInterval:     cfg.Upstream.Retry.MaxInterval,
		Multiplier:      cfg.Upstream.Retry.Multiplier,
		OnRetry: func(op string, _ int, _ error) {
			metrics.RecordRetry(op)
		},
	}

	// Initialize services
	provider, closeProvider, err := newProvider(ctx, cfg.Upstream, apiKey, retry)
	if err != nil {
		return err
	}
	defer closeProvider()

	chatService := chatbot.NewChatService(provider, cfg.Upstream, cfg.Relay, metrics)
	chatController := chatbot.NewChatController(chatService, metrics)

	router := server.NewRouter(cfg, server.Deps{
		Chat:     chatController,
		Auth:     auth.NewMiddleware(cfg.Auth.AccessKey),
		Gatherer: reg,
		Logger:   logger,
	})

	logger.Info("Poe relay starting",
		"port", cfg.Server.Port,
		"provider", cfg.Upstream.Provider,
		"model", cfg.Upstream.Model,
		"stream", cfg.Relay.Stream,
		"hasAPIKey", apiKey != "",
		"accessKeyCheck", cfg.Auth.AccessKey != "")

	// Start server
	if err := server.Run(ctx, cfg.Server.Port, router, cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("Poe relay stopped")
	return nil
}

// resolveAPIKey prefers the key from the environment and falls back to SSM
// Parameter Store.
func resolveAPIKey(ctx context.Context, up config.UpstreamConfig) (string, error) {
	if up.APIKey != "" {
		return up.APIKey, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	keys, err := paramstore.NewKeyStore(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return "", err
	}
	key, err := keys.APIKey(ctx, up.APIKeyParam)
	if err != nil {
		return "", fmt.Errorf("resolve API key: %w", err)
	}
	return key, nil
}

func newProvider(ctx context.Context, up config.UpstreamConfig, apiKey string, retry llm.RetryPolicy) (llm.AIProvider, func(), error) {
	switch up.Provider {
	case "gemini":
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, nil, fmt.Errorf("create gemini client: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("closing gemini client", "err", err)
			}
		}
		return llm.NewGeminiAIProvider(client, retry, up.AttemptTimeout), closeFn, nil
	default:
		client := llm.NewXAIClient(apiKey, up.BaseURL, up.AttemptTimeout)
		provider := llm.NewOpenAIProvider(client,
			llm.WithRetryPolicy(retry),
			llm.WithAttemptTimeout(up.AttemptTimeout))
		return provider, func() {}, nil
	}
}

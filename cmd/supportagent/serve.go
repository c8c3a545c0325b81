package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Rahuldrabit/support-agent/analytics"
	"github.com/Rahuldrabit/support-agent/dispatch"
	"github.com/Rahuldrabit/support-agent/engine"
	"github.com/Rahuldrabit/support-agent/gate"
	"github.com/Rahuldrabit/support-agent/httpapi"
	"github.com/Rahuldrabit/support-agent/internal/logutil"
	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/platform"
	"github.com/Rahuldrabit/support-agent/policy"
	"github.com/Rahuldrabit/support-agent/providers/openai"
	"github.com/Rahuldrabit/support-agent/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, workflow pipeline, and delivery dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			st, err := openStoreFromViper(logger)
			if err != nil {
				return err
			}

			provider, err := providerFromViper()
			if err != nil {
				return err
			}

			eng, err := engine.New(st, provider, engineConfigFromViper(), engine.WithLogger(logger))
			if err != nil {
				return err
			}

			registry := platform.NewRegistry()
			registry.Register(store.PlatformTikTok, platform.NewTikTokClient(
				viper.GetString("tiktok.api_base"),
				viper.GetString("tiktok.access_token"),
			))
			registry.Register(store.PlatformLinkedIn, platform.NewLinkedInClient(
				viper.GetString("linkedin.api_base"),
				viper.GetString("linkedin.access_token"),
			))

			sink := analytics.NewSink(st, logger)

			dispatcher, err := dispatch.New(st, registry, dispatchConfigFromViper(),
				dispatch.WithLogger(logger), dispatch.WithObserver(sink))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, err := gate.NewGate(st, logger)
			if err != nil {
				return err
			}
			pipeline, err := gate.NewPipeline(ctx, gate.PipelineOptions{
				Gate:       g,
				Store:      st,
				Runner:     eng,
				Dispatcher: dispatcher,
				Observer:   sink,
				Config: gate.PipelineConfig{
					QueueDepth:  viper.GetInt("pipeline.queue_depth"),
					IdleTimeout: viper.GetDuration("pipeline.idle_timeout"),
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			if err := dispatcher.Start(ctx); err != nil {
				return err
			}

			srv, err := httpapi.NewServer(httpapi.Options{
				Config: httpapi.Config{
					Listen:                viper.GetString("server.listen"),
					TikTokWebhookSecret:   viper.GetString("tiktok.webhook_secret"),
					LinkedInWebhookSecret: viper.GetString("linkedin.webhook_secret"),
					AdminToken:            viper.GetString("server.admin_token"),
				},
				Store:      st,
				Pipeline:   pipeline,
				Dispatcher: dispatcher,
				Sink:       sink,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			logger.Info("shutdown_begin")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http_shutdown_error", "error", err.Error())
			}
			pipeline.Wait()
			logger.Info("shutdown_complete")
			return nil
		},
	}
	return cmd
}

func openStoreFromViper(logger *slog.Logger) (*store.Store, error) {
	return store.Open(store.Config{
		DSN:           viper.GetString("db.path"),
		BusyTimeoutMs: viper.GetInt("db.busy_timeout_ms"),
		AutoMigrate:   viper.GetBool("db.auto_migrate"),
	}, store.WithLogger(logger))
}

func providerFromViper() (llm.Provider, error) {
	switch name := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider"))); name {
	case "", "mock":
		return llm.NewMock(), nil
	case "openai":
		key := strings.TrimSpace(viper.GetString("llm.api_key"))
		if key == "" {
			return nil, fmt.Errorf("missing llm.api_key (set via SUPPORT_AGENT_LLM_API_KEY)")
		}
		return openai.New(viper.GetString("llm.endpoint"), key, viper.GetString("llm.model")), nil
	default:
		return nil, fmt.Errorf("unknown llm.provider: %q", name)
	}
}

func engineConfigFromViper() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.MaxGenerateAttempts = viper.GetInt("workflow.max_generate_attempts")
	cfg.RunTimeout = viper.GetDuration("workflow.run_timeout")
	cfg.HistoryLimit = viper.GetInt("workflow.history_limit")
	cfg.ContextWindow = viper.GetInt("workflow.context_window")
	cfg.Policy = policyConfigFromViper()
	return cfg
}

func policyConfigFromViper() policy.Config {
	cfg := policy.DefaultConfig()
	if viper.IsSet("escalation.rule_order") {
		cfg.RuleOrder = viper.GetStringSlice("escalation.rule_order")
	}
	if viper.IsSet("escalation.urgent_keywords") {
		cfg.UrgentKeywords = viper.GetStringSlice("escalation.urgent_keywords")
	}
	cfg.NegativeThreshold = viper.GetFloat64("escalation.negative_threshold")
	return cfg
}

func dispatchConfigFromViper() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	cfg.Workers = viper.GetInt("delivery.workers")
	cfg.MaxAttempts = viper.GetInt("delivery.max_attempts")
	cfg.BackoffBase = viper.GetDuration("delivery.backoff_base")
	cfg.BackoffCap = viper.GetDuration("delivery.backoff_cap")
	cfg.PollInterval = viper.GetDuration("delivery.poll_interval")
	cfg.SendTimeout = viper.GetDuration("delivery.send_timeout")
	cfg.RateLimits = map[store.Platform]int{
		store.PlatformTikTok:   viper.GetInt("delivery.rate_limits.tiktok"),
		store.PlatformLinkedIn: viper.GetInt("delivery.rate_limits.linkedin"),
	}
	return cfg
}

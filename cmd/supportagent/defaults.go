package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	viper.SetDefault("db.path", "support_agent.db")
	viper.SetDefault("db.busy_timeout_ms", 5000)
	viper.SetDefault("db.auto_migrate", true)

	viper.SetDefault("llm.provider", "mock")
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.api_key", "")

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.admin_token", "")

	viper.SetDefault("workflow.max_generate_attempts", 3)
	viper.SetDefault("workflow.run_timeout", 30*time.Second)
	viper.SetDefault("workflow.history_limit", 10)
	viper.SetDefault("workflow.context_window", 3)

	viper.SetDefault("escalation.negative_threshold", -0.5)

	viper.SetDefault("pipeline.queue_depth", 32)
	viper.SetDefault("pipeline.idle_timeout", 5*time.Minute)

	viper.SetDefault("delivery.workers", 4)
	viper.SetDefault("delivery.max_attempts", 5)
	viper.SetDefault("delivery.backoff_base", 2*time.Second)
	viper.SetDefault("delivery.backoff_cap", 5*time.Minute)
	viper.SetDefault("delivery.poll_interval", time.Second)
	viper.SetDefault("delivery.send_timeout", 15*time.Second)
	viper.SetDefault("delivery.rate_limits.tiktok", 60)
	viper.SetDefault("delivery.rate_limits.linkedin", 100)

	viper.SetDefault("tiktok.api_base", "https://open.tiktokapis.com")
	viper.SetDefault("tiktok.access_token", "")
	viper.SetDefault("tiktok.webhook_secret", "")
	viper.SetDefault("linkedin.api_base", "https://api.linkedin.com")
	viper.SetDefault("linkedin.access_token", "")
	viper.SetDefault("linkedin.webhook_secret", "")
}

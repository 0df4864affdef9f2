package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Platforms: PlatformsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
				Limits: LimitsConfig{
					// Bot API allows ~30 messages/second overall and
					// ~20 per chat per minute.
					RatePerSecond:    25,
					Burst:            25,
					PerChatPerMinute: 20,
				},
			},
			Slack: SlackConfig{
				Enabled: false,
				Limits: LimitsConfig{
					// chat.postMessage is tier-limited to ~1 msg/sec per channel.
					RatePerSecond:    10,
					Burst:            10,
					PerChatPerMinute: 60,
				},
			},
			Max: MaxConfig{
				Enabled: false,
				APIBase: "https://max-api.chat/api",
				Limits: LimitsConfig{
					RatePerSecond: 10,
					Burst:         10,
				},
			},
		},
		Dispatch: DispatchConfig{
			QueueCapacity:       64,
			DedupWindow:         200,
			IdleEvictionMinutes: 30,
			Workers:             8,
			MaxChats:            4096,
		},
		Outbound: OutboundConfig{
			MaxAttempts:         5,
			MaxTotalWaitSeconds: 120,
			BackoffFloorSeconds: 1,
			SendTimeoutSeconds:  30,
		},
		Resolver: ResolverConfig{
			Mode:           "faq",
			TimeoutSeconds: 10,
			Retries:        2,
			DBPath:         "~/.botgate/faq.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botgate/internal/config"
	"botgate/internal/dispatch"
	"botgate/internal/domain"
	"botgate/internal/gateway"
	"botgate/internal/knowledge"
	"botgate/internal/outbound"
	"botgate/internal/platform"
	"botgate/internal/resolve"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "botgate",
		Short: "botgate: multi-platform webhook gateway for conversational bots",
		Long: "botgate receives webhooks from Telegram, Slack, and Max, verifies and\n" +
			"normalizes them, resolves replies through a FAQ engine or an external\n" +
			"service, and delivers responses back under per-platform rate limits.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.botgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(webhookCmd())
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

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
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
		Short: "Run the webhook gateway",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no platforms enabled in config")
	}

	resolver, cleanup, err := buildResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sender := outbound.NewSender(outbound.SenderConfig{
		Adapters: adapters,
		Limits:   platformLimits(cfg),
		Outbound: cfg.Outbound,
		Logger:   logger,
	})

	client := resolve.NewClient(resolver, cfg.Resolver, logger)

	process := func(ctx context.Context, msg domain.InboundMessage) {
		reply, err := client.Resolve(ctx, msg.Text, domain.ResolveContext{
			Platform: msg.Platform,
			ChatID:   msg.ChatID,
			UserID:   msg.UserID,
		})
		if err != nil {
			logger.Error("resolution failed, dropping message",
				"chat", msg.Key().String(), "err", err)
			return
		}
		if reply == "" {
			return
		}
		sender.Send(ctx, domain.OutboundRequest{
			Key:             msg.Key(),
			Text:            reply,
			FirstEnqueuedAt: msg.ReceivedAt,
		})
	}

	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, process, sender.ForgetChat, logger)
	server := gateway.NewServer(cfg.Server, cfg.Metrics, adapters, dispatcher, logger)

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	logger.Info("botgate starting", "version", version, "platforms", len(adapters))
	err = server.Start(ctx)

	// Let in-flight work finish before the process exits.
	select {
	case <-dispatcherDone:
	case <-time.After(10 * time.Second):
		logger.Warn("dispatcher did not drain before shutdown deadline")
	}
	return err
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return err
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			ctx := context.Background()
			adapters, err := buildAdapters(ctx, cfg)
			if err != nil {
				return err
			}
			for name, a := range adapters {
				logger.Info("platform", "name", name, "configured", a.HasCredential())
			}
			logger.Info("resolver", "mode", cfg.Resolver.Mode)
			return nil
		},
	}
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage platform webhook registrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Register webhook URLs with all enabled platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachRegistrar(func(ctx context.Context, name domain.Platform, reg domain.WebhookRegistrar, publicURL string) error {
				url := fmt.Sprintf("%s/webhook/%s/", publicURL, name)
				if err := reg.RegisterWebhook(ctx, url); err != nil {
					return fmt.Errorf("register %s webhook: %w", name, err)
				}
				logger.Info("webhook registered", "platform", name, "url", url)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove webhook registrations from all enabled platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachRegistrar(func(ctx context.Context, name domain.Platform, reg domain.WebhookRegistrar, publicURL string) error {
				if err := reg.UnregisterWebhook(ctx); err != nil {
					return fmt.Errorf("unregister %s webhook: %w", name, err)
				}
				logger.Info("webhook removed", "platform", name)
				return nil
			})
		},
	})
	return cmd
}

func forEachRegistrar(fn func(ctx context.Context, name domain.Platform, reg domain.WebhookRegistrar, publicURL string) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if cfg.Server.PublicURL == "" {
		return fmt.Errorf("server.publicUrl must be set to manage webhooks")
	}

	ctx := context.Background()
	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	for name, a := range adapters {
		reg, ok := a.(domain.WebhookRegistrar)
		if !ok {
			logger.Info("platform has no webhook registration API", "platform", name)
			continue
		}
		if err := fn(ctx, name, reg, cfg.Server.PublicURL); err != nil {
			return err
		}
	}
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			return config.Print(os.Stdout, config.Sanitize(cfg))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolveConfigPath()); err != nil {
				return err
			}
			logger.Info("config valid", "path", resolveConfigPath())
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("botgate", version)
		},
	}
}

// buildAdapters constructs an adapter per enabled platform.
func buildAdapters(ctx context.Context, cfg *config.Config) (map[domain.Platform]domain.Adapter, error) {
	adapters := make(map[domain.Platform]domain.Adapter)

	if cfg.Platforms.Telegram.Enabled {
		tg := platform.NewTelegram(cfg.Platforms.Telegram, logger)
		if err := tg.Connect(ctx); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		adapters[domain.PlatformTelegram] = tg
	}
	if cfg.Platforms.Slack.Enabled {
		adapters[domain.PlatformSlack] = platform.NewSlack(cfg.Platforms.Slack, logger)
	}
	if cfg.Platforms.Max.Enabled {
		adapters[domain.PlatformMax] = platform.NewMax(cfg.Platforms.Max, logger)
	}
	return adapters, nil
}

// buildResolver constructs the reply engine per config. The returned cleanup
// closes any backing store.
func buildResolver(ctx context.Context, cfg *config.Config) (domain.Resolver, func(), error) {
	switch cfg.Resolver.Mode {
	case "http":
		return resolve.NewHTTPResolver(cfg.Resolver.URL), func() {}, nil
	default: // faq
		store, err := knowledge.NewSQLiteStore(cfg.Resolver.DBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := knowledge.Seed(ctx, store, cfg.Resolver.SeedPath); err != nil {
			store.Close()
			return nil, nil, err
		}
		engine, err := knowledge.NewEngine(store, logger)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return engine, func() { store.Close() }, nil
	}
}

func platformLimits(cfg *config.Config) map[domain.Platform]config.LimitsConfig {
	return map[domain.Platform]config.LimitsConfig{
		domain.PlatformTelegram: cfg.Platforms.Telegram.Limits,
		domain.PlatformSlack:    cfg.Platforms.Slack.Limits,
		domain.PlatformMax:      cfg.Platforms.Max.Limits,
	}
}

// setupLogger reconfigures the global logger from loaded config.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, using stderr", "path", cfg.General.LogFile, "err", err)
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"infobot/internal/analyzer"
	"infobot/internal/bot"
	"infobot/internal/bus"
	"infobot/internal/channel"
	"infobot/internal/config"
	"infobot/internal/decision"
	"infobot/internal/dispatch"
	"infobot/internal/domain"
	"infobot/internal/driver"
	"infobot/internal/history"
	"infobot/internal/metrics"
	"infobot/internal/monitor"
	"infobot/internal/queue"

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
		Use:   "infobot",
		Short: "InfoBot: chat activity monitoring and notice forwarding",
		Long:  "InfoBot watches source contacts on WeChat Web, classifies detected activity and forwards qualifying notices to target contacts.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.infobot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(broadcastCmd())
	root.AddCommand(doctorCmd())

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
		Short: "Write a default config file",
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
			logger.Info("edit the contacts section, then run 'infobot login' and 'infobot run'")
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a visible browser to scan the WeChat Web QR code",
		Long:  "Opens a visible Chrome window for the QR login. The session is saved in the profile directory for later headless use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			drv := driver.NewWeChatWeb(driver.WeChatWebConfig{Driver: cfg.Driver, Logger: logger})
			return drv.Login(ctx)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring and forwarding pipeline",
		RunE:  runPipeline,
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	setLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv := driver.NewWeChatWeb(driver.WeChatWebConfig{Driver: cfg.Driver, Logger: logger})
	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	defer drv.Stop()

	eventBus := bus.New(100, logger)
	defer eventBus.Close()

	roles := domain.NewRoles(cfg.Contacts.Sources, cfg.Contacts.Targets)
	store := queue.NewStore(queue.StoreConfig{
		Roles:        roles,
		MaxProcessed: cfg.Queue.MaxProcessed,
		Logger:       logger,
	})

	var an domain.Analyzer
	if cfg.Prompts.UseAIForAnalysis && cfg.SiliconFlow.APIKey != "" {
		an = analyzer.NewSiliconFlow(cfg.SiliconFlow, logger)
	} else {
		logger.Warn("AI analysis disabled, keyword rules only")
	}

	engine := decision.NewEngine(decision.EngineConfig{
		Prompts:  cfg.Prompts,
		Analyzer: an,
		Logger:   logger,
	})

	dispatcher := dispatch.New(dispatch.DispatcherConfig{Driver: drv, Logger: logger})

	mon := monitor.New(monitor.MonitorConfig{
		Driver: drv,
		Bus:    eventBus,
		Config: cfg.Monitor,
		Logger: logger,
	})

	var archive bot.Archiver
	if cfg.History.Enabled {
		hist, err := history.NewStore(config.ExpandPath(cfg.History.DBPath), logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer hist.Close()
		archive = hist
	}

	b := bot.New(bot.BotConfig{
		Config:     cfg,
		Roles:      roles,
		Driver:     drv,
		Bus:        eventBus,
		Store:      store,
		Engine:     engine,
		Dispatcher: dispatcher,
		Monitor:    mon,
		Archiver:   archive,
		Logger:     logger,
	})

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Listen)
	}

	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Config:   cfg.Telegram,
			Operator: b,
			Logger:   logger,
		})
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel failed", "err", err)
			}
		}()
	}

	return b.Run(ctx)
}

func serveMetrics(ctx context.Context, listen string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())

	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info("metrics listening", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "err", err)
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <contact> <text>",
		Short: "Send one message through the browser session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			drv := driver.NewWeChatWeb(driver.WeChatWebConfig{Driver: cfg.Driver, Logger: logger})
			if err := drv.Start(ctx); err != nil {
				return fmt.Errorf("start browser session: %w", err)
			}
			defer drv.Stop()

			contact := args[0]
			text := strings.Join(args[1:], " ")
			if !drv.SendText(ctx, contact, text) {
				return fmt.Errorf("send to %s failed", contact)
			}
			logger.Info("sent", "contact", contact)
			return nil
		},
	}
}

func broadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <text>",
		Short: "Send one message to every target contact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Contacts.Targets) == 0 {
				return fmt.Errorf("no target contacts configured")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			drv := driver.NewWeChatWeb(driver.WeChatWebConfig{Driver: cfg.Driver, Logger: logger})
			if err := drv.Start(ctx); err != nil {
				return fmt.Errorf("start browser session: %w", err)
			}
			defer drv.Stop()

			dispatcher := dispatch.New(dispatch.DispatcherConfig{Driver: drv, Logger: logger})
			results := dispatcher.Broadcast(ctx, cfg.Contacts.Targets, strings.Join(args, " "))

			ok := dispatch.SuccessCount(results)
			logger.Info("broadcast finished", "ok", ok, "total", len(results))
			if ok == 0 {
				return fmt.Errorf("every delivery failed")
			}
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w (run 'infobot init' first)", cfgPath, err)
	}
	return cfg, nil
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
}

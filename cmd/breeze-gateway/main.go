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

	"gopkg.in/yaml.v3"

	"breeze-gateway/internal/gateway"
	"breeze-gateway/internal/mqtt"
	"breeze-gateway/internal/store"
	"breeze-gateway/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Listen struct {
		Device      string `yaml:"device"`        // device-facing TCP listener
		UDPBasePort int    `yaml:"udp_base_port"` // zone 0 broadcast port
		Zones       int    `yaml:"zones"`
	} `yaml:"listen"`
	Cloud struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"cloud"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		HADiscovery bool   `yaml:"ha_discovery"`
		HAPrefix    string `yaml:"ha_prefix"`
	} `yaml:"mqtt"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Sweep struct {
		Cron       string `yaml:"cron"`
		StaleAfter string `yaml:"stale_after"`
	} `yaml:"sweep"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Listen.Zones < 1 {
		return fmt.Errorf("listen.zones must be at least 1, got %d", c.Listen.Zones)
	}
	if c.Cloud.Enabled && c.Cloud.Endpoint == "" {
		return fmt.Errorf("cloud.endpoint is required when cloud.enabled is true")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}
	if _, err := time.ParseDuration(c.Sweep.StaleAfter); err != nil {
		return fmt.Errorf("sweep.stale_after: %w", err)
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("breeze-gateway starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	staleAfter, _ := time.ParseDuration(cfg.Sweep.StaleAfter)
	gw := gateway.New(gateway.Config{
		ListenAddr:   cfg.Listen.Device,
		CloudAddr:    cfg.Cloud.Endpoint,
		CloudEnabled: cfg.Cloud.Enabled,
		UDPBasePort:  cfg.Listen.UDPBasePort,
		Zones:        cfg.Listen.Zones,
		SweepCron:    cfg.Sweep.Cron,
		StaleAfter:   staleAfter,
	}, db, logger)

	if err := gw.Start(); err != nil {
		logger.Error("start gateway", "err", err)
		os.Exit(1)
	}

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(gw, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = mqtt.NewBridge(gw, mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			HADiscovery: cfg.MQTT.HADiscovery,
			HAPrefix:    cfg.MQTT.HAPrefix,
		}, logger)
		if err != nil {
			logger.Error("connect mqtt", "err", err)
			os.Exit(1)
		}
		bridge.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if bridge != nil {
		bridge.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	gw.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Listen.Device == "" {
		cfg.Listen.Device = ":11000"
	}
	if cfg.Listen.UDPBasePort == 0 {
		cfg.Listen.UDPBasePort = 45000
	}
	if cfg.Listen.Zones == 0 {
		cfg.Listen.Zones = 1
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "breeze-gateway.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "breeze"
	}
	if cfg.MQTT.HAPrefix == "" {
		cfg.MQTT.HAPrefix = "homeassistant"
	}
	if cfg.Sweep.Cron == "" {
		cfg.Sweep.Cron = "* * * * *"
	}
	if cfg.Sweep.StaleAfter == "" {
		cfg.Sweep.StaleAfter = "5m"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

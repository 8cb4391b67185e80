package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/blunderbot/internal/admission"
	"github.com/lox/blunderbot/internal/config"
	"github.com/lox/blunderbot/internal/dispatcher"
	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/registry"
	"github.com/lox/blunderbot/internal/rules"
	"github.com/lox/blunderbot/internal/session"
)

// version is set by ldflags during build
var version = "dev"

// shutdownGrace is how long in-flight games get to finish on shutdown.
const shutdownGrace = 5 * time.Second

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Config   string           `short:"c" default:"blunderbot.hcl" help:"Path to HCL config file"`
	Server   string           `help:"Service base URL (overrides config)"`
	Token    string           `help:"API token (overrides config and BLUNDERBOT_TOKEN)"`
	LogLevel string           `help:"Log level: debug, info, warn, error (overrides config)"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("blunderbot"),
		kong.Description("A chess bot that accepts casual challenges and plays random legal moves"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	ctx.FatalIfErrorf(cli.run())
}

func (cli *CLI) run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cli.Server != "" {
		cfg.Server.URL = cli.Server
	}
	if cli.Token != "" {
		cfg.Bot.Token = cli.Token
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, cleanup, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := quartz.NewReal()
	reg := registry.New()
	gw := gateway.NewClient(cfg.Server.URL, cfg.Bot.Token, logger,
		gateway.WithTimeout(time.Duration(cfg.Server.RequestTimeout)*time.Second))
	engine := admission.NewEngine(gw, reg, admission.DefaultRules(cfg.Bot.MaxGames), clock, logger)
	chooser := session.NewRandomChooser(rand.New(rand.NewSource(time.Now().UnixNano())))

	d := dispatcher.New(dispatcher.Config{
		BotName: cfg.Bot.Name,
		Backoff: time.Duration(cfg.Server.RetryDelay) * time.Second,
	}, gw, engine, reg, rules.NewChessProvider(), chooser, clock, logger)

	logger.Info("starting", "version", version, "server", cfg.Server.URL, "max_games", cfg.Bot.MaxGames)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx)
	})

	err = g.Wait()
	logger.Info("shutting down", "grace", shutdownGrace)
	d.Drain(shutdownGrace)

	if err != nil && ctx.Err() != nil {
		// Normal signal-driven exit.
		return nil
	}
	return err
}

func newLogger(cfg config.LogSettings) (*log.Logger, func(), error) {
	out := os.Stderr
	cleanup := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		cleanup = func() { f.Close() }
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
	})
	switch cfg.Level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger, cleanup, nil
}

// Package dispatcher owns the control event stream. It classifies each
// event and hands the work off — challenges to the admission engine, game
// starts to a new session — so that nothing slow ever blocks consumption of
// the stream. Stream failures are retried forever on a fixed backoff.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/blunderbot/internal/admission"
	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/protocol"
	"github.com/lox/blunderbot/internal/registry"
	"github.com/lox/blunderbot/internal/rules"
	"github.com/lox/blunderbot/internal/session"
)

// DefaultBackoff is the fixed delay between control stream attempts.
const DefaultBackoff = 60 * time.Second

// Config holds dispatcher settings.
type Config struct {
	// BotName is our display name, used by sessions for outcome logging.
	BotName string

	// Backoff between control stream attempts; DefaultBackoff when zero.
	Backoff time.Duration
}

// Dispatcher consumes the control stream and supervises the per-event work.
type Dispatcher struct {
	cfg      Config
	gw       gateway.Gateway
	engine   *admission.Engine
	reg      *registry.Registry
	rules    rules.Provider
	chooser  session.Chooser
	clock    quartz.Clock
	logger   *log.Logger
	handlers sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config, gw gateway.Gateway, engine *admission.Engine, reg *registry.Registry, rp rules.Provider, chooser session.Chooser, clock quartz.Clock, logger *log.Logger) *Dispatcher {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Dispatcher{
		cfg:     cfg,
		gw:      gw,
		engine:  engine,
		reg:     reg,
		rules:   rp,
		chooser: chooser,
		clock:   clock,
		logger:  logger.WithPrefix("dispatcher"),
	}
}

// Run connects to the control stream and keeps reconnecting until ctx is
// cancelled. There is no bound on attempts: a persistent agent keeps
// trying.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := d.stream(ctx); err != nil {
			d.logger.Warn("control stream failed", "error", err)
		} else {
			d.logger.Warn("control stream ended")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Info(fmt.Sprintf("retrying in %s", d.cfg.Backoff))
		if !d.sleep(ctx, d.cfg.Backoff) {
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) stream(ctx context.Context) error {
	events, err := d.gw.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	d.logger.Info("streaming control events")

	for ev := range events {
		switch e := ev.(type) {
		case protocol.ChallengeEvent:
			challenge := e.Challenge
			d.fork(func() { d.engine.Handle(ctx, challenge) })
		case protocol.GameStartEvent:
			d.startGame(ctx, e.Game)
		case protocol.GameFinishEvent:
			d.logger.Info("game finished", "game_id", e.GameID)
		case protocol.ChallengeCanceledEvent:
			d.logger.Info("challenge canceled", "challenge_id", e.ID)
		case protocol.ChallengeDeclinedEvent:
			d.logger.Info("challenge declined", "challenge_id", e.ID)
		case protocol.UnknownControlEvent:
			d.logger.Debug("ignoring control event", "type", e.Type)
		}
	}
	return nil
}

// startGame spawns a session unless one is already registered for the game.
// The registry insert is the race arbiter: the service may redeliver
// gameStart, and exactly one delivery wins.
func (d *Dispatcher) startGame(ctx context.Context, game protocol.GameStart) {
	if !d.reg.Insert(game.ID, game.Opponent.ID) {
		d.logger.Debug("duplicate gameStart ignored", "game_id", game.ID)
		return
	}
	d.logger.Info("starting session",
		"game_id", game.ID,
		"opponent", game.Opponent.Name,
		"color", game.Color)

	s := session.New(game, d.cfg.BotName, d.gw, d.rules, d.chooser, d.reg, d.logger)
	d.fork(func() { s.Run(ctx) })
}

// fork runs fn on its own goroutine. A panicking handler is logged and
// contained; it never takes down a sibling or the dispatcher.
func (d *Dispatcher) fork(fn func()) {
	d.handlers.Add(1)
	go func() {
		defer d.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panicked", "panic", r)
			}
		}()
		fn()
	}()
}

// Drain waits up to grace for in-flight handlers and sessions to finish.
func (d *Dispatcher) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		d.handlers.Wait()
		close(done)
	}()

	fired := make(chan struct{})
	timer := d.clock.AfterFunc(grace, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-done:
	case <-fired:
		d.logger.Warn("grace period elapsed with handlers still running")
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	fired := make(chan struct{})
	timer := d.clock.AfterFunc(dur, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-fired:
		return true
	case <-ctx.Done():
		return false
	}
}

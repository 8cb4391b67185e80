// Package admission decides whether an incoming challenge is accepted or
// declined. Rules are evaluated in a fixed order and the first match wins;
// a challenge that survives every rule is accepted.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/protocol"
	"github.com/lox/blunderbot/internal/registry"
)

// Rule declines a challenge when its predicate matches. Msg is the
// human-readable reason for the log; Reason is the code sent to the service.
type Rule struct {
	When   func(protocol.Challenge, registry.Snapshot) bool
	Msg    string
	Reason protocol.DeclineReason
}

// DefaultRules returns the decline rules in their contractual order. The
// ordering is behavior, not implementation detail: the first matching rule
// determines the decline reason the challenger sees.
func DefaultRules(maxGames int) []Rule {
	return []Rule{
		{
			When:   func(c protocol.Challenge, _ registry.Snapshot) bool { return c.Challenger == nil || c.Challenger.ID == "" },
			Msg:    "no identifiable challenger",
			Reason: protocol.DeclineGeneric,
		},
		{
			When:   func(c protocol.Challenge, _ registry.Snapshot) bool { return c.ForbidsAbort() },
			Msg:    "challenge forbids abort",
			Reason: protocol.DeclineGeneric,
		},
		{
			When:   func(c protocol.Challenge, _ registry.Snapshot) bool { return c.Rated },
			Msg:    "rated",
			Reason: protocol.DeclineCasual,
		},
		{
			When: func(c protocol.Challenge, _ registry.Snapshot) bool {
				switch c.Variant.Key {
				case protocol.VariantStandard, protocol.VariantChess960, protocol.VariantFromPosition:
					return false
				}
				return true
			},
			Msg:    "variant",
			Reason: protocol.DeclineStandard,
		},
		{
			When:   func(_ protocol.Challenge, snap registry.Snapshot) bool { return snap.Active >= maxGames },
			Msg:    "too many games",
			Reason: protocol.DeclineLater,
		},
		{
			// A rematch of the opponent's registered game is exempt; the
			// exemption is keyed on the rematched game id, not on opponent
			// identity alone.
			When: func(c protocol.Challenge, snap registry.Snapshot) bool {
				if c.Challenger == nil {
					return false
				}
				game, playing := snap.GameWithOpponent(c.Challenger.ID)
				if !playing {
					return false
				}
				return !(c.Rematch && c.RematchOf == game)
			},
			Msg:    "existing game",
			Reason: protocol.DeclineLater,
		},
	}
}

// Decision is the outcome of evaluating a challenge.
type Decision struct {
	Admit bool
	Rule  *Rule // the rule that declined, nil on admit
}

// Engine evaluates challenges and performs the accept/decline side effects.
type Engine struct {
	gw         gateway.Gateway
	reg        *registry.Registry
	rules      []Rule
	clock      quartz.Clock
	logger     *log.Logger
	greetDelay time.Duration
}

// NewEngine creates an admission engine with the given rule order.
func NewEngine(gw gateway.Gateway, reg *registry.Registry, rules []Rule, clock quartz.Clock, logger *log.Logger) *Engine {
	return &Engine{
		gw:         gw,
		reg:        reg,
		rules:      rules,
		clock:      clock,
		logger:     logger.WithPrefix("admission"),
		greetDelay: time.Second,
	}
}

// Evaluate applies the rule order to a challenge against a registry
// snapshot. Pure: no gateway calls, exactly one outcome.
func (e *Engine) Evaluate(c protocol.Challenge, snap registry.Snapshot) Decision {
	for i := range e.rules {
		if e.rules[i].When(c, snap) {
			return Decision{Rule: &e.rules[i]}
		}
	}
	return Decision{Admit: true}
}

// Handle evaluates a challenge and acts on the outcome: decline with the
// matched rule's reason, or accept and greet the opponent. Decline failures
// are logged and not retried; the challenge expires service-side.
func (e *Engine) Handle(ctx context.Context, c protocol.Challenge) {
	decision := e.Evaluate(c, e.reg.Snapshot())
	if !decision.Admit {
		rule := decision.Rule
		e.logger.Info("declined challenge",
			"challenge_id", c.ID,
			"challenger", c.ChallengerName(),
			"rule", rule.Msg,
			"reason", rule.Reason)
		if err := e.gw.DeclineChallenge(ctx, c.ID, rule.Reason); err != nil {
			e.logger.Warn("decline failed", "challenge_id", c.ID, "error", err)
		}
		return
	}

	if err := e.gw.AcceptChallenge(ctx, c.ID); err != nil {
		// Never leave a challenge unanswered.
		e.logger.Warn("accept failed, declining instead", "challenge_id", c.ID, "error", err)
		if err := e.gw.DeclineChallenge(ctx, c.ID, protocol.DeclineGeneric); err != nil {
			e.logger.Warn("decline failed", "challenge_id", c.ID, "error", err)
		}
		return
	}
	e.logger.Info("accepted challenge", "challenge_id", c.ID, "challenger", c.ChallengerName())

	// The chat channel is not ready the instant a challenge is accepted;
	// wait briefly before greeting.
	fired := make(chan struct{})
	timer := e.clock.AfterFunc(e.greetDelay, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-fired:
	case <-ctx.Done():
		return
	}

	greeting := fmt.Sprintf("Hi %s! I wish you a good game!", c.ChallengerName())
	if c.Rematch {
		greeting = "Again!"
	}
	if err := e.gw.Chat(ctx, c.ID, greeting); err != nil {
		e.logger.Debug("greeting failed", "challenge_id", c.ID, "error", err)
	}
}

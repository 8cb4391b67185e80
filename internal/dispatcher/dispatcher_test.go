package dispatcher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/blunderbot/internal/admission"
	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/protocol"
	"github.com/lox/blunderbot/internal/registry"
	"github.com/lox/blunderbot/internal/rules"
	"github.com/lox/blunderbot/internal/session"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

type harness struct {
	d     *Dispatcher
	fake  *gateway.Fake
	reg   *registry.Registry
	clock *quartz.Mock
	done  chan error
}

func startDispatcher(t *testing.T, ctx context.Context) *harness {
	t.Helper()
	fake := gateway.NewFake()
	reg := registry.New()
	clock := quartz.NewMock(t)
	logger := testLogger()
	engine := admission.NewEngine(fake, reg, admission.DefaultRules(8), clock, logger)

	d := New(Config{BotName: "blunderbot"}, fake, engine, reg,
		rules.NewChessProvider(), session.NewRandomChooser(nil), clock, logger)

	h := &harness{d: d, fake: fake, reg: reg, clock: clock, done: make(chan error, 1)}
	go func() { h.done <- d.Run(ctx) }()
	return h
}

func (h *harness) stop(t *testing.T, cancel context.CancelFunc) {
	t.Helper()
	cancel()
	close(h.fake.ControlStream())
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func gameStart(id string) protocol.GameStartEvent {
	return protocol.GameStartEvent{Game: protocol.GameStart{
		ID:       id,
		Color:    protocol.White,
		Opponent: protocol.Player{ID: "alice", Name: "Alice"},
	}}
}

func TestDuplicateGameStartSpawnsOneSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startDispatcher(t, ctx)

	control := h.fake.ControlStream()
	control <- gameStart("g1")
	control <- gameStart("g1")

	require.Eventually(t, func() bool { return h.reg.Contains("g1") }, time.Second, time.Millisecond)

	// End the game; if a second session existed it would say goodbye too.
	h.fake.GameStream("g1") <- protocol.GameFull{
		State: protocol.GameState{Status: protocol.StatusMate, Winner: protocol.Black},
	}
	require.Eventually(t, func() bool { return !h.reg.Contains("g1") }, time.Second, time.Millisecond)

	assert.Len(t, h.fake.Chats(), 1)
	h.stop(t, cancel)
}

func TestChallengesAreRoutedToAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startDispatcher(t, ctx)

	h.fake.ControlStream() <- protocol.ChallengeEvent{Challenge: protocol.Challenge{
		ID:         "ch1",
		Challenger: &protocol.Player{ID: "alice", Name: "Alice"},
		Rated:      true,
		Variant:    protocol.Variant{Key: protocol.VariantStandard},
	}}

	require.Eventually(t, func() bool { return len(h.fake.Declined()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, protocol.DeclineCasual, h.fake.Declined()[0].Reason)
	h.stop(t, cancel)
}

func TestInformationalEventsAreIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startDispatcher(t, ctx)

	control := h.fake.ControlStream()
	control <- protocol.GameFinishEvent{GameID: "g9"}
	control <- protocol.ChallengeCanceledEvent{ID: "ch9"}
	control <- protocol.ChallengeDeclinedEvent{ID: "ch9"}
	control <- protocol.UnknownControlEvent{Type: "ping"}

	h.stop(t, cancel)

	assert.Empty(t, h.fake.Accepted())
	assert.Empty(t, h.fake.Declined())
	assert.Equal(t, 0, h.reg.Len())
}

func TestReconnectsAfterBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := gateway.NewFake()
	fake.FailConnects = 1
	reg := registry.New()
	clock := quartz.NewMock(t)
	logger := testLogger()
	engine := admission.NewEngine(fake, reg, admission.DefaultRules(8), clock, logger)

	d := New(Config{BotName: "blunderbot"}, fake, engine, reg,
		rules.NewChessProvider(), session.NewRandomChooser(nil), clock, logger)
	assert.Equal(t, DefaultBackoff, d.cfg.Backoff)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// First attempt fails, the retry timer is armed for the full backoff.
	require.Eventually(t, func() bool {
		_, ok := clock.Peek()
		return ok
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, fake.Connects())

	clock.Advance(DefaultBackoff).MustWait(ctx)
	require.Eventually(t, func() bool { return fake.Connects() == 2 }, time.Second, time.Millisecond)

	cancel()
	close(fake.ControlStream())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestNilChallengerIsDeclined(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startDispatcher(t, ctx)

	h.fake.ControlStream() <- protocol.ChallengeEvent{Challenge: protocol.Challenge{ID: "ch1"}}

	require.Eventually(t, func() bool { return len(h.fake.Declined()) == 1 }, time.Second, time.Millisecond)
	h.stop(t, cancel)
}

func TestDrainWaitsForSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startDispatcher(t, ctx)

	control := h.fake.ControlStream()
	control <- gameStart("g1")
	require.Eventually(t, func() bool { return h.reg.Contains("g1") }, time.Second, time.Millisecond)

	cancel()
	close(control)
	close(h.fake.GameStream("g1"))

	h.d.Drain(time.Minute)
	assert.False(t, h.reg.Contains("g1"))

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/protocol"
	"github.com/lox/blunderbot/internal/registry"
	"github.com/lox/blunderbot/internal/rules"
)

// scriptChooser plays a predetermined move sequence so tests are
// deterministic regardless of move generation order.
type scriptChooser struct {
	script []string
	next   int
	seen   [][]string
}

func (c *scriptChooser) Choose(moves []string) string {
	c.seen = append(c.seen, moves)
	if c.next >= len(c.script) {
		panic("chooser script exhausted")
	}
	mv := c.script[c.next]
	c.next++
	return mv
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func testGame(color protocol.Color) protocol.GameStart {
	return protocol.GameStart{
		ID:       "g1",
		Color:    color,
		Opponent: protocol.Player{ID: "alice", Name: "Alice"},
	}
}

func newTestSession(t *testing.T, game protocol.GameStart, fake *gateway.Fake, script ...string) (*Session, *registry.Registry) {
	t.Helper()
	s, reg, _ := newTestSessionChooser(t, game, fake, script...)
	return s, reg
}

func newTestSessionChooser(t *testing.T, game protocol.GameStart, fake *gateway.Fake, script ...string) (*Session, *registry.Registry, *scriptChooser) {
	t.Helper()
	reg := registry.New()
	require.True(t, reg.Insert(game.ID, game.Opponent.ID))
	chooser := &scriptChooser{script: script}
	s := New(game, "blunderbot", fake, rules.NewChessProvider(), chooser, reg, testLogger())
	return s, reg, chooser
}

func full(moves string, status protocol.Status) protocol.GameFull {
	return protocol.GameFull{
		White: protocol.Player{ID: "bot", Name: "blunderbot"},
		Black: protocol.Player{ID: "alice", Name: "Alice"},
		State: protocol.GameState{Moves: moves, Status: status},
	}
}

func state(moves string, status protocol.Status) protocol.GameState {
	return protocol.GameState{Moves: moves, Status: status}
}

func TestPlaysAFullGame(t *testing.T) {
	fake := gateway.NewFake()
	s, reg := newTestSession(t, testGame(protocol.White), fake, "e2e4", "g1f3")

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- state("e2e4", protocol.StatusStarted)
	stream <- state("e2e4 e7e5", protocol.StatusStarted)
	finished := state("e2e4 e7e5 g1f3", protocol.StatusResign)
	finished.Winner = protocol.White
	stream <- finished

	s.Run(context.Background())

	assert.Equal(t, []gateway.MoveCall{
		{GameID: "g1", UCI: "e2e4"},
		{GameID: "g1", UCI: "g1f3"},
	}, fake.Moves())

	chats := fake.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, helloMessage, chats[0].Text)
	assert.Equal(t, goodbyeMessage, chats[1].Text)

	assert.Empty(t, fake.Resigned())
	assert.False(t, reg.Contains("g1"), "finished session must deregister its game")
}

func TestChooserSeesEveryLegalOpeningMove(t *testing.T) {
	fake := gateway.NewFake()
	s, _, chooser := newTestSessionChooser(t, testGame(protocol.White), fake, "e2e4")

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- state("e2e4", protocol.StatusAborted)

	s.Run(context.Background())

	require.Len(t, chooser.seen, 1)
	assert.Len(t, chooser.seen[0], 20)
	assert.Contains(t, chooser.seen[0], "e2e4")
	require.Len(t, fake.Moves(), 1)
	assert.Contains(t, chooser.seen[0], fake.Moves()[0].UCI)
}

func TestResumesMidGameWithoutGreeting(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.White), fake, "g1f3")

	stream := fake.GameStream("g1")
	stream <- full("e2e4 e7e5", protocol.StatusStarted)
	stream <- state("e2e4 e7e5 g1f3 b8c6", protocol.StatusAborted)

	s.Run(context.Background())

	require.Len(t, fake.Moves(), 1)
	assert.Equal(t, "g1f3", fake.Moves()[0].UCI)

	chats := fake.Chats()
	require.Len(t, chats, 1, "a resumed game gets no hello")
	assert.Equal(t, goodbyeMessage, chats[0].Text)
}

func TestRedeliveredStateIsIdempotent(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.Black), fake, "e7e5")

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- state("e2e4", protocol.StatusStarted)
	// The same update again: nothing new to apply, nothing to submit.
	stream <- state("e2e4", protocol.StatusStarted)
	stream <- state("e2e4 e7e5", protocol.StatusAborted)

	s.Run(context.Background())

	require.Len(t, fake.Moves(), 1)
	assert.Equal(t, "e7e5", fake.Moves()[0].UCI)
	assert.Empty(t, fake.Resigned())
}

func TestCustomStartingPosition(t *testing.T) {
	fake := gateway.NewFake()
	game := testGame(protocol.Black)
	game.FEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	s, _ := newTestSession(t, game, fake, "e7e5")

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- state("e7e5", protocol.StatusAborted)

	s.Run(context.Background())

	require.Len(t, fake.Moves(), 1)
	assert.Equal(t, "e7e5", fake.Moves()[0].UCI)
}

func TestAcceptsOpponentDrawOffer(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.White), fake, "e2e4")

	stream := fake.GameStream("g1")
	stream <- full("e2e4", protocol.StatusStarted)
	offer := state("e2e4", protocol.StatusStarted)
	offer.BlackDrawOffer = true
	stream <- offer
	stream <- state("e2e4", protocol.StatusDraw)

	s.Run(context.Background())

	require.Len(t, fake.Draws(), 1)
	assert.Equal(t, gateway.DrawCall{GameID: "g1", Accept: true}, fake.Draws()[0])
	assert.Empty(t, fake.Moves())
}

func TestIgnoresOwnDrawOffer(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.White), fake)

	stream := fake.GameStream("g1")
	stream <- full("e2e4", protocol.StatusStarted)
	offer := state("e2e4", protocol.StatusStarted)
	offer.WhiteDrawOffer = true
	stream <- offer
	stream <- state("e2e4", protocol.StatusDraw)

	s.Run(context.Background())

	assert.Empty(t, fake.Draws())
}

func TestResignsWhenMoveRejected(t *testing.T) {
	fake := gateway.NewFake()
	fake.MoveErr = assert.AnError
	s, reg := newTestSession(t, testGame(protocol.White), fake, "e2e4")

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)

	s.Run(context.Background())

	assert.Equal(t, []string{"g1"}, fake.Resigned())
	assert.False(t, reg.Contains("g1"))
}

func TestResignsOnImpossibleStreamMove(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.Black), fake)

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- state("e2e5", protocol.StatusStarted)

	s.Run(context.Background())

	assert.Equal(t, []string{"g1"}, fake.Resigned())
}

func TestResignsWhenStreamDiesMidGame(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.Black), fake)

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	close(stream)

	s.Run(context.Background())

	assert.Equal(t, []string{"g1"}, fake.Resigned())
}

func TestShutdownDoesNotResign(t *testing.T) {
	fake := gateway.NewFake()
	s, reg := newTestSession(t, testGame(protocol.Black), fake)

	ctx, cancel := context.WithCancel(context.Background())
	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(fake.Chats()) == 1 }, time.Second, time.Millisecond)
	cancel()
	close(stream)
	<-done

	assert.Empty(t, fake.Resigned())
	assert.False(t, reg.Contains("g1"))
}

func TestResignsWhenStreamCannotOpen(t *testing.T) {
	fake := gateway.NewFake()
	fake.OpenGameErr = assert.AnError
	s, reg := newTestSession(t, testGame(protocol.White), fake)

	s.Run(context.Background())

	assert.Equal(t, []string{"g1"}, fake.Resigned())
	assert.False(t, reg.Contains("g1"))
}

func TestClaimsDrawWhenOfferedForGoneOpponent(t *testing.T) {
	fake := gateway.NewFake()
	s, _ := newTestSession(t, testGame(protocol.Black), fake)

	stream := fake.GameStream("g1")
	stream <- full("", protocol.StatusStarted)
	stream <- protocol.OpponentGone{Gone: true, CanClaimDraw: true}
	stream <- state("", protocol.StatusDraw)

	s.Run(context.Background())

	assert.Equal(t, []string{"g1"}, fake.ClaimedDraws())
}

func TestAlreadyFinishedGame(t *testing.T) {
	fake := gateway.NewFake()
	s, reg := newTestSession(t, testGame(protocol.White), fake)

	stream := fake.GameStream("g1")
	finished := full("e2e4 e7e5", protocol.StatusMate)
	finished.State.Winner = protocol.Black
	stream <- finished

	s.Run(context.Background())

	assert.Empty(t, fake.Moves())
	chats := fake.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, goodbyeMessage, chats[0].Text)
	assert.False(t, reg.Contains("g1"))
}

func TestRandomChooserPicksALegalMove(t *testing.T) {
	chooser := NewRandomChooser(nil)
	moves := []string{"e2e4", "d2d4", "g1f3"}
	for i := 0; i < 50; i++ {
		assert.Contains(t, moves, chooser.Choose(moves))
	}
}

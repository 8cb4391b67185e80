package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/lox/blunderbot/internal/protocol"
)

// Fake is an in-memory Gateway for tests: streams are fed by the test, and
// every action is recorded. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	control chan protocol.ControlEvent
	games   map[string]chan protocol.GameEvent

	// FailConnects makes the next n Connect calls fail.
	FailConnects int
	AcceptErr    error
	DeclineErr   error
	MoveErr      error
	ChatErr      error
	OpenGameErr  error

	connects int
	accepted []string
	declined []DeclineCall
	moves    []MoveCall
	chats    []ChatCall
	resigned []string
	draws    []DrawCall
	claimed  []string
}

// MoveCall records one Move invocation.
type MoveCall struct {
	GameID string
	UCI    string
}

// ChatCall records one Chat invocation.
type ChatCall struct {
	GameID string
	Text   string
}

// DeclineCall records one DeclineChallenge invocation.
type DeclineCall struct {
	ChallengeID string
	Reason      protocol.DeclineReason
}

// DrawCall records one HandleDrawOffer invocation.
type DrawCall struct {
	GameID string
	Accept bool
}

// NewFake returns a fake gateway with an open control stream.
func NewFake() *Fake {
	return &Fake{
		control: make(chan protocol.ControlEvent, 64),
		games:   make(map[string]chan protocol.GameEvent),
	}
}

// ControlStream returns the channel backing the control stream so tests can
// feed and close it.
func (f *Fake) ControlStream() chan protocol.ControlEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.control
}

// ResetControlStream replaces the control stream, simulating a reconnect.
func (f *Fake) ResetControlStream() chan protocol.ControlEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = make(chan protocol.ControlEvent, 64)
	return f.control
}

// GameStream returns (creating if needed) the channel backing one game's
// update stream.
func (f *Fake) GameStream(gameID string) chan protocol.GameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.games[gameID]
	if !ok {
		ch = make(chan protocol.GameEvent, 64)
		f.games[gameID] = ch
	}
	return ch
}

func (f *Fake) Connect(ctx context.Context) (<-chan protocol.ControlEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.FailConnects > 0 {
		f.FailConnects--
		return nil, errors.New("connect refused")
	}
	return f.control, nil
}

func (f *Fake) OpenGame(ctx context.Context, gameID string) (<-chan protocol.GameEvent, error) {
	if f.OpenGameErr != nil {
		return nil, f.OpenGameErr
	}
	return f.GameStream(gameID), nil
}

func (f *Fake) AcceptChallenge(ctx context.Context, challengeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AcceptErr != nil {
		return f.AcceptErr
	}
	f.accepted = append(f.accepted, challengeID)
	return nil
}

func (f *Fake) DeclineChallenge(ctx context.Context, challengeID string, reason protocol.DeclineReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeclineErr != nil {
		return f.DeclineErr
	}
	f.declined = append(f.declined, DeclineCall{ChallengeID: challengeID, Reason: reason})
	return nil
}

func (f *Fake) Move(ctx context.Context, gameID, uci string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MoveErr != nil {
		return f.MoveErr
	}
	f.moves = append(f.moves, MoveCall{GameID: gameID, UCI: uci})
	return nil
}

func (f *Fake) Chat(ctx context.Context, gameID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChatErr != nil {
		return f.ChatErr
	}
	f.chats = append(f.chats, ChatCall{GameID: gameID, Text: text})
	return nil
}

func (f *Fake) Resign(ctx context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resigned = append(f.resigned, gameID)
	return nil
}

func (f *Fake) HandleDrawOffer(ctx context.Context, gameID string, accept bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draws = append(f.draws, DrawCall{GameID: gameID, Accept: accept})
	return nil
}

func (f *Fake) ClaimDraw(ctx context.Context, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, gameID)
	return nil
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Fake) Accepted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accepted...)
}

func (f *Fake) Declined() []DeclineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DeclineCall(nil), f.declined...)
}

func (f *Fake) Moves() []MoveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MoveCall(nil), f.moves...)
}

func (f *Fake) Chats() []ChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatCall(nil), f.chats...)
}

func (f *Fake) Resigned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resigned...)
}

func (f *Fake) Draws() []DrawCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DrawCall(nil), f.draws...)
}

func (f *Fake) ClaimedDraws() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.claimed...)
}

var _ Gateway = (*Fake)(nil)

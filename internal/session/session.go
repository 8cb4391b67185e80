// Package session plays exactly one game from start to termination. A
// session consumes its game's update stream, reconciles a locally derived
// position against each partial update, and acts when it is the bot's turn.
package session

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/lox/blunderbot/internal/gateway"
	"github.com/lox/blunderbot/internal/protocol"
	"github.com/lox/blunderbot/internal/registry"
	"github.com/lox/blunderbot/internal/rules"
)

const (
	helloMessage   = "Hello! I haven't existed for long, so I might contain some bugs... I wish you a good game!"
	goodbyeMessage = "Thanks for the game!"
)

// Session owns one game for its lifetime. The authoritative position is
// always derived by replaying the immutable starting position plus the
// verified move list; the stream is only trusted for the moves themselves.
type Session struct {
	game    protocol.GameStart
	botName string
	gw      gateway.Gateway
	rules   rules.Provider
	chooser Chooser
	reg     *registry.Registry
	logger  *log.Logger

	// moves incorporated so far, counted from the game's starting position.
	// The cursor only ever advances: overlapping redeliveries apply nothing.
	moves   []string
	applied int

	// cursor value at which we last submitted a move, so a redelivered
	// update cannot make us submit the same move twice.
	movedAt int
}

// New creates a session for a started game. The caller must already hold
// the game's registry entry; the session removes it when it finishes.
func New(game protocol.GameStart, botName string, gw gateway.Gateway, rp rules.Provider, chooser Chooser, reg *registry.Registry, logger *log.Logger) *Session {
	return &Session{
		game:    game,
		botName: botName,
		gw:      gw,
		rules:   rp,
		chooser: chooser,
		reg:     reg,
		logger:  logger.WithPrefix("session").With("game_id", game.ID),
		movedAt: -1,
	}
}

// Run pumps the game's update stream until the game reaches a terminal
// state, the stream closes, or an unrecoverable error occurs. Whatever the
// exit path, the game is removed from the registry exactly once and nothing
// escapes to the caller.
func (s *Session) Run(ctx context.Context) {
	defer s.reg.Remove(s.game.ID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panicked", "panic", r)
		}
	}()

	events, err := s.gw.OpenGame(ctx, s.game.ID)
	if err != nil {
		s.logger.Error("opening game stream failed", "error", err)
		s.resign(ctx)
		return
	}

	for ev := range events {
		var done bool
		switch e := ev.(type) {
		case protocol.GameFull:
			done = s.onFull(ctx, e)
		case protocol.GameState:
			done = s.onState(ctx, e)
		case protocol.OpponentGone:
			s.onGone(ctx, e)
		case protocol.ChatLine:
			s.logger.Info("chat", "from", e.Username, "room", e.Room, "text", e.Text)
		case protocol.UnknownGameEvent:
			s.logger.Debug("ignoring game event", "type", e.Type)
		}
		if done {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	// The stream died before the game ended; this session cannot continue.
	s.logger.Warn("game stream closed before game ended")
	s.resign(ctx)
}

// onFull seeds the cursor from the state snapshot so games resumed
// mid-stream are not replayed into chat spam, then moves if it is our turn.
func (s *Session) onFull(ctx context.Context, full protocol.GameFull) bool {
	s.moves = full.State.MoveList()
	s.applied = len(s.moves)
	s.logger.Info("joined game",
		"white", full.White.Name,
		"black", full.Black.Name,
		"color", s.game.Color,
		"moves_played", s.applied,
		"status", full.State.Status)

	if full.State.Status.Terminal() {
		return s.finish(ctx, full.State)
	}

	if s.applied == 0 {
		if err := s.gw.Chat(ctx, s.game.ID, helloMessage); err != nil {
			s.logger.Debug("hello chat failed", "error", err)
		}
	}

	pos, err := s.position(s.moves)
	if err != nil {
		return s.fail(ctx, err)
	}
	return s.maybeMove(ctx, pos)
}

// onState applies the unseen move suffix, then checks for termination, an
// opponent draw offer, and finally whether it is our turn.
func (s *Session) onState(ctx context.Context, state protocol.GameState) bool {
	list := state.MoveList()

	var pos rules.Position
	var err error
	if len(list) > s.applied {
		last := list[len(list)-1]
		pos, err = s.position(list[:len(list)-1])
		if err != nil {
			return s.fail(ctx, err)
		}
		s.logMove(pos, last)
		if err := pos.Apply(last); err != nil {
			return s.fail(ctx, err)
		}
		s.logger.Info("position", "fen", pos.FEN(), "state", pos.Status().String(), "status", state.Status)
		s.moves = list
		s.applied = len(list)
	} else {
		// Duplicate or overlapping delivery: nothing new to apply.
		pos, err = s.position(s.moves)
		if err != nil {
			return s.fail(ctx, err)
		}
	}

	if state.Status.Terminal() {
		return s.finish(ctx, state)
	}

	if side, offered := state.DrawOffer(); offered && side != s.game.Color {
		s.logger.Info("accepting draw offer", "from", side)
		if err := s.gw.HandleDrawOffer(ctx, s.game.ID, true); err != nil {
			s.logger.Warn("draw response failed", "error", err)
		}
		return false
	}

	return s.maybeMove(ctx, pos)
}

func (s *Session) onGone(ctx context.Context, gone protocol.OpponentGone) {
	s.logger.Info("opponent gone", "gone", gone.Gone, "can_claim_draw", gone.CanClaimDraw)
	if gone.CanClaimDraw {
		if err := s.gw.ClaimDraw(ctx, s.game.ID); err != nil {
			s.logger.Warn("draw claim failed", "error", err)
		}
	}
}

// maybeMove submits one move when the reconstructed position says it is our
// turn. A failed submission or an empty legal-move set ends the game: the
// move is never retried, the session resigns instead.
func (s *Session) maybeMove(ctx context.Context, pos rules.Position) bool {
	if pos.SideToMove() != s.game.Color {
		return false
	}
	if s.applied == s.movedAt {
		// Already answered this position; the update was a redelivery.
		return false
	}

	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return s.fail(ctx, fmt.Errorf("no legal moves in %s", pos.FEN()))
	}

	uci := s.chooser.Choose(legal)
	if san, err := pos.SAN(uci); err == nil {
		s.logger.Info("playing", "move", uci, "san", san)
	} else {
		s.logger.Info("playing", "move", uci)
	}

	if err := s.gw.Move(ctx, s.game.ID, uci); err != nil {
		return s.fail(ctx, fmt.Errorf("move %s rejected: %w", uci, err))
	}
	s.movedAt = s.applied
	return false
}

// finish sends the closing chat and logs the outcome. After this the
// session makes no further gateway calls for the game.
func (s *Session) finish(ctx context.Context, state protocol.GameState) bool {
	if err := s.gw.Chat(ctx, s.game.ID, goodbyeMessage); err != nil {
		s.logger.Debug("goodbye chat failed", "error", err)
	}
	if state.Winner != "" {
		s.logger.Info("game over", "status", state.Status, "winner", s.nameFor(state.Winner))
	} else {
		s.logger.Info("game over", "status", state.Status, "winner", "no winner")
	}
	return true
}

// fail handles unrecoverable session errors: resign and terminate.
func (s *Session) fail(ctx context.Context, err error) bool {
	s.logger.Warn("game failed, resigning", "error", err)
	s.resign(ctx)
	return true
}

func (s *Session) resign(ctx context.Context) {
	if err := s.gw.Resign(ctx, s.game.ID); err != nil {
		s.logger.Warn("resign failed", "error", err)
	}
}

// position replays the starting position plus the given moves. Rebuilding
// from scratch on every update keeps reconciliation correct under
// duplicated and overlapping deliveries.
func (s *Session) position(moves []string) (rules.Position, error) {
	pos, err := s.rules.StartingPosition(s.game.FEN)
	if err != nil {
		return nil, err
	}
	for _, mv := range moves {
		if err := pos.Apply(mv); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

func (s *Session) logMove(pos rules.Position, uci string) {
	san, err := pos.SAN(uci)
	if err != nil {
		san = "?"
	}
	white := s.nameFor(protocol.White)
	black := s.nameFor(protocol.Black)
	if pos.SideToMove() == protocol.White {
		white += "*"
	} else {
		black += "*"
	}
	s.logger.Info("move played", "move", uci, "san", san, "players", fmt.Sprintf("%s - %s", white, black))
}

func (s *Session) nameFor(color protocol.Color) string {
	if color == s.game.Color {
		return s.botName
	}
	return s.game.Opponent.Name
}

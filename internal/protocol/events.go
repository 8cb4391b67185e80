// Package protocol defines the event types exchanged with the game service.
// Events arrive as JSON envelopes tagged with a "type" field and are decoded
// into closed tagged unions: ControlEvent for the account-level stream and
// GameEvent for the per-game streams.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Color identifies a side in a game.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// DeclineReason is the code sent with a challenge decline.
type DeclineReason string

const (
	DeclineGeneric  DeclineReason = "generic"
	DeclineCasual   DeclineReason = "casual"
	DeclineStandard DeclineReason = "standard"
	DeclineLater    DeclineReason = "later"
	DeclineNoBot    DeclineReason = "noBot"
)

// Variant keys the bot recognises. Anything else is declined.
const (
	VariantStandard     = "standard"
	VariantChess960     = "chess960"
	VariantFromPosition = "fromPosition"
)

// Status reports the lifecycle state of a game. The codes are ordered:
// "started" is the last non-terminal value, so any status that sorts after
// it means the game is over.
type Status string

const (
	StatusCreated       Status = "created"
	StatusStarted       Status = "started"
	StatusAborted       Status = "aborted"
	StatusMate          Status = "mate"
	StatusResign        Status = "resign"
	StatusStalemate     Status = "stalemate"
	StatusTimeout       Status = "timeout"
	StatusDraw          Status = "draw"
	StatusOutOfTime     Status = "outoftime"
	StatusCheat         Status = "cheat"
	StatusNoStart       Status = "noStart"
	StatusUnknownFinish Status = "unknownFinish"
	StatusVariantEnd    Status = "variantEnd"
)

var statusOrder = map[Status]int{
	StatusCreated:       10,
	StatusStarted:       20,
	StatusAborted:       25,
	StatusMate:          30,
	StatusResign:        31,
	StatusStalemate:     32,
	StatusTimeout:       33,
	StatusDraw:          34,
	StatusOutOfTime:     35,
	StatusCheat:         36,
	StatusNoStart:       37,
	StatusUnknownFinish: 38,
	StatusVariantEnd:    60,
}

// Terminal reports whether the status sorts after "started". Unknown codes
// are treated as non-terminal so a newer server cannot silently end games.
func (s Status) Terminal() bool {
	ord, ok := statusOrder[s]
	return ok && ord > statusOrder[StatusStarted]
}

// Player identifies one participant.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Variant describes the game variant attached to a challenge.
type Variant struct {
	Key string `json:"key"`
}

// Challenge is an incoming invitation to play. It is consumed exactly once
// by the admission engine.
type Challenge struct {
	ID         string   `json:"id"`
	Challenger *Player  `json:"challenger"`
	Rated      bool     `json:"rated"`
	Variant    Variant  `json:"variant"`
	Rules      []string `json:"rules"`
	Rematch    bool     `json:"rematch"`
	RematchOf  string   `json:"rematchOf"`
}

// ForbidsAbort reports whether the challenge carries the noAbort rule flag.
func (c Challenge) ForbidsAbort() bool {
	for _, r := range c.Rules {
		if r == "noAbort" {
			return true
		}
	}
	return false
}

// ChallengerName returns the challenger's display name, or a placeholder
// when the challenger is not identified.
func (c Challenge) ChallengerName() string {
	if c.Challenger == nil || c.Challenger.Name == "" {
		return "Opponent"
	}
	return c.Challenger.Name
}

// GameStart describes a game the service has started for us. It is the
// immutable handle a session owns for the game's lifetime: the position in
// FEN is the position at the moment the game (re)started, and all move
// lists on the game stream extend from it.
type GameStart struct {
	ID       string `json:"gameId"`
	Color    Color  `json:"color"`
	FEN      string `json:"fen"`
	Opponent Player `json:"opponent"`
}

// ControlEvent is the closed union of account-stream events.
type ControlEvent interface{ controlEvent() }

// ChallengeEvent carries an incoming challenge.
type ChallengeEvent struct{ Challenge Challenge }

// GameStartEvent announces a game ready to be played.
type GameStartEvent struct{ Game GameStart }

// GameFinishEvent announces that a game ended. Informational only; the
// game's own stream is the authority on its result.
type GameFinishEvent struct{ GameID string }

// ChallengeCanceledEvent announces the challenger withdrew.
type ChallengeCanceledEvent struct{ ID string }

// ChallengeDeclinedEvent echoes a decline issued by either side.
type ChallengeDeclinedEvent struct{ ID string }

// UnknownControlEvent preserves an unrecognised envelope for logging.
type UnknownControlEvent struct{ Type string }

func (ChallengeEvent) controlEvent()         {}
func (GameStartEvent) controlEvent()         {}
func (GameFinishEvent) controlEvent()        {}
func (ChallengeCanceledEvent) controlEvent() {}
func (ChallengeDeclinedEvent) controlEvent() {}
func (UnknownControlEvent) controlEvent()    {}

// Control stream envelope types.
const (
	TypeChallenge         = "challenge"
	TypeGameStart         = "gameStart"
	TypeGameFinish        = "gameFinish"
	TypeChallengeCanceled = "challengeCanceled"
	TypeChallengeDeclined = "challengeDeclined"
)

// Game stream envelope types.
const (
	TypeGameFull     = "gameFull"
	TypeGameState    = "gameState"
	TypeOpponentGone = "opponentGone"
	TypeChatLine     = "chatLine"
)

type controlEnvelope struct {
	Type      string     `json:"type"`
	Challenge *Challenge `json:"challenge"`
	Game      *GameStart `json:"game"`
	ID        string     `json:"id"`
}

// DecodeControl parses one control-stream envelope.
func DecodeControl(data []byte) (ControlEvent, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode control event: %w", err)
	}
	switch env.Type {
	case TypeChallenge:
		if env.Challenge == nil {
			return nil, fmt.Errorf("challenge event without challenge body")
		}
		return ChallengeEvent{Challenge: *env.Challenge}, nil
	case TypeGameStart:
		if env.Game == nil {
			return nil, fmt.Errorf("gameStart event without game body")
		}
		return GameStartEvent{Game: *env.Game}, nil
	case TypeGameFinish:
		id := env.ID
		if env.Game != nil {
			id = env.Game.ID
		}
		return GameFinishEvent{GameID: id}, nil
	case TypeChallengeCanceled:
		return ChallengeCanceledEvent{ID: env.ID}, nil
	case TypeChallengeDeclined:
		return ChallengeDeclinedEvent{ID: env.ID}, nil
	default:
		return UnknownControlEvent{Type: env.Type}, nil
	}
}

// GameEvent is the closed union of per-game stream events.
type GameEvent interface{ gameEvent() }

// GameState is the incremental state update for one game. Moves is the
// space-joined move list from the game's first move; successive updates
// only ever extend it.
type GameState struct {
	Moves          string `json:"moves"`
	Status         Status `json:"status"`
	Winner         Color  `json:"winner"`
	WhiteDrawOffer bool   `json:"wdraw"`
	BlackDrawOffer bool   `json:"bdraw"`
}

// MoveList splits the move string into individual moves, dropping empties.
func (s GameState) MoveList() []string {
	fields := strings.Fields(s.Moves)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// DrawOffer returns the side currently offering a draw, if any.
func (s GameState) DrawOffer() (Color, bool) {
	switch {
	case s.WhiteDrawOffer:
		return White, true
	case s.BlackDrawOffer:
		return Black, true
	}
	return "", false
}

// GameFull is the first event on a game stream: full participants plus the
// current state, so sessions can resume games already in progress.
type GameFull struct {
	White Player    `json:"white"`
	Black Player    `json:"black"`
	State GameState `json:"state"`
}

// OpponentGone signals the opponent disconnected. CanClaimDraw means the
// service will now let us claim a draw for the abandoned game.
type OpponentGone struct {
	Gone         bool `json:"gone"`
	CanClaimDraw bool `json:"canClaimDraw"`
}

// ChatLine is a chat message from either participant.
type ChatLine struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Room     string `json:"room"`
}

// UnknownGameEvent preserves an unrecognised envelope for logging.
type UnknownGameEvent struct{ Type string }

func (GameFull) gameEvent()         {}
func (GameState) gameEvent()        {}
func (OpponentGone) gameEvent()     {}
func (ChatLine) gameEvent()         {}
func (UnknownGameEvent) gameEvent() {}

// DecodeGame parses one game-stream envelope.
func DecodeGame(data []byte) (GameEvent, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode game event: %w", err)
	}
	switch env.Type {
	case TypeGameFull:
		var full GameFull
		if err := json.Unmarshal(data, &full); err != nil {
			return nil, fmt.Errorf("decode gameFull: %w", err)
		}
		return full, nil
	case TypeGameState:
		var state GameState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode gameState: %w", err)
		}
		return state, nil
	case TypeOpponentGone:
		var gone OpponentGone
		if err := json.Unmarshal(data, &gone); err != nil {
			return nil, fmt.Errorf("decode opponentGone: %w", err)
		}
		return gone, nil
	case TypeChatLine:
		var chat ChatLine
		if err := json.Unmarshal(data, &chat); err != nil {
			return nil, fmt.Errorf("decode chatLine: %w", err)
		}
		return chat, nil
	default:
		return UnknownGameEvent{Type: env.Type}, nil
	}
}

// Package rules provides move legality, notation and terminal-state
// classification for positions. Consumers only see the Provider interface;
// the concrete implementation wraps a chess rules engine.
package rules

import (
	"fmt"

	"github.com/lox/blunderbot/internal/protocol"
)

// StatusKind classifies a position.
type StatusKind int

const (
	Ongoing StatusKind = iota
	Drawn
	Decisive
)

// Status is the rules-level classification of a position. Reason names the
// rule that ended the game (checkmate, stalemate, repetition, ...) and is
// empty while the game is ongoing.
type Status struct {
	Kind   StatusKind
	Winner protocol.Color
	Reason string
}

func (s Status) String() string {
	switch s.Kind {
	case Drawn:
		return fmt.Sprintf("drawn (%s)", s.Reason)
	case Decisive:
		return fmt.Sprintf("%s wins (%s)", s.Winner, s.Reason)
	}
	return "ongoing"
}

// Position is a board state reached by replaying verified moves from a
// starting position. Implementations are not safe for concurrent use; each
// session derives its positions fresh and keeps them to itself.
type Position interface {
	// Apply plays one move in UCI notation, mutating the position.
	Apply(uci string) error

	// LegalMoves returns every legal move in UCI notation, ordered
	// deterministically. Empty when the game is over.
	LegalMoves() []string

	// SAN renders a UCI move in standard algebraic notation for display,
	// without playing it.
	SAN(uci string) (string, error)

	// FEN serialises the current position.
	FEN() string

	// Status classifies the position.
	Status() Status

	// SideToMove returns the color whose turn it is.
	SideToMove() protocol.Color
}

// Provider constructs positions.
type Provider interface {
	// StartingPosition builds a position from a FEN string. An empty string
	// or "startpos" means the standard initial position.
	StartingPosition(fen string) (Position, error)
}

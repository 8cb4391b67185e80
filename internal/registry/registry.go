// Package registry tracks the games the bot is currently playing. It is the
// only state shared between the dispatcher, the admission engine and the
// running sessions, so every operation is safe for concurrent use.
package registry

import "sync"

// Registry is the authoritative set of active games, keyed by game id with a
// secondary index by opponent id. An entry exists iff a session for that
// game is running: the dispatcher inserts before it spawns a session, and
// the session removes its own entry on the way out.
type Registry struct {
	mu        sync.RWMutex
	games     map[string]string // game id -> opponent id
	opponents map[string]string // opponent id -> game id
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		games:     make(map[string]string),
		opponents: make(map[string]string),
	}
}

// Insert registers a game atomically. It returns false when the game id is
// already present, which is how duplicate gameStart deliveries lose the race
// to spawn a second session.
func (r *Registry) Insert(gameID, opponentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.games[gameID]; exists {
		return false
	}
	r.games[gameID] = opponentID
	if opponentID != "" {
		r.opponents[opponentID] = gameID
	}
	return true
}

// Remove deregisters a game. It is idempotent, and only clears the opponent
// index when it still points at this game (a rematch may have re-bound the
// opponent to a newer game id).
func (r *Registry) Remove(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opponentID, exists := r.games[gameID]
	if !exists {
		return
	}
	delete(r.games, gameID)
	if opponentID != "" && r.opponents[opponentID] == gameID {
		delete(r.opponents, opponentID)
	}
}

// Contains reports whether a session for the game is registered.
func (r *Registry) Contains(gameID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.games[gameID]
	return ok
}

// Len returns the number of active games.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Snapshot returns a point-in-time copy for admission decisions. Decisions
// made from a snapshot can race with concurrent inserts; the service is the
// final arbiter of concurrent game creation, so that window is tolerated.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opponents := make(map[string]string, len(r.opponents))
	for opponent, game := range r.opponents {
		opponents[opponent] = game
	}
	return Snapshot{Active: len(r.games), opponents: opponents}
}

// Snapshot is an immutable view of the registry at one instant.
type Snapshot struct {
	Active    int
	opponents map[string]string
}

// GameWithOpponent returns the game id registered against an opponent.
func (s Snapshot) GameWithOpponent(opponentID string) (string, bool) {
	game, ok := s.opponents[opponentID]
	return game, ok
}

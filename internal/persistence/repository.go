package persistence

import "grid-scalper-bot-go/internal/models"

// LoadStatus classifies the outcome of reading one bot's state.
type LoadStatus int

const (
	// LoadOK means the state was found and decoded.
	LoadOK LoadStatus = iota
	// LoadNotFound means nothing is stored under the id.
	LoadNotFound
	// LoadCorrupt means a value exists but cannot be decoded.
	LoadCorrupt
)

func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadNotFound:
		return "not_found"
	case LoadCorrupt:
		return "corrupt"
	}
	return "unknown"
}

// LoadResult is the typed outcome of LoadState. State is set only for LoadOK,
// Err only for LoadCorrupt.
type LoadResult struct {
	Status LoadStatus
	State  *models.BotState
	Err    error
}

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application. Every bot is stored under its own key.
type StateRepository interface {
	// SaveState atomically saves the entire state of one bot.
	SaveState(state *models.BotState) error

	// LoadState loads one bot's state. Storage failures are returned as the error;
	// a missing or undecodable value is reported through the LoadResult.
	LoadState(botID string) (LoadResult, error)

	// ListIDs returns the ids of every stored bot in key order.
	ListIDs() ([]string, error)

	// DeleteState removes a bot's state. Deleting a missing id is not an error.
	DeleteState(botID string) error

	// Close gracefully closes the connection to the database.
	Close() error
}

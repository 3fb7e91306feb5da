package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"grid-scalper-bot-go/internal/models"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// keyPrefix namespaces bot states inside the database.
const keyPrefix = "bot_state:"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository backed by an in-memory BadgerDB.
func NewInMemoryRepository() (StateRepository, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*badgerRepository, error) {
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(botID string) []byte {
	return []byte(keyPrefix + botID)
}

// SaveState marshals the state struct into JSON and saves it under the bot's key.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	if state == nil || state.BotID == "" {
		return errors.New("cannot save state without a bot id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.BotID), data)
	})
}

// LoadState loads a bot's state from storage.
func (r *badgerRepository) LoadState(botID string) (LoadResult, error) {
	var data []byte

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(botID))
		if err != nil {
			// We return the specific error to check it outside the transaction.
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	// After the transaction, check for the specific "key not found" error.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return LoadResult{Status: LoadNotFound}, nil
	}
	if err != nil {
		return LoadResult{}, err
	}

	if len(data) == 0 {
		return LoadResult{Status: LoadCorrupt, Err: errors.New("state value is empty in database")}, nil
	}
	var state models.BotState
	if err := json.Unmarshal(data, &state); err != nil {
		return LoadResult{Status: LoadCorrupt, Err: err}, nil
	}
	if state.BotID != botID {
		return LoadResult{Status: LoadCorrupt, Err: fmt.Errorf("stored bot id %q does not match key %q", state.BotID, botID)}, nil
	}
	if err := state.StrategyState.CheckInvariants(); err != nil {
		return LoadResult{Status: LoadCorrupt, Err: err}, nil
	}
	return LoadResult{Status: LoadOK, State: &state}, nil
}

// ListIDs iterates the key prefix without fetching values.
func (r *badgerRepository) ListIDs() ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	return ids, err
}

// DeleteState removes the bot's key.
func (r *badgerRepository) DeleteState(botID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(botID))
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

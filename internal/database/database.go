// Package database implements the JSON-file persistence layer. Each
// collection lives in its own file under the data directory, guarded by a
// reader-writer lock, and is replaced atomically on every mutation via
// write-temp-then-rename.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/woodchen-ink/OVH/internal/api"
)

// ErrNotFound is returned by lookups and scoped mutations when no entity
// matches the given ID.
var ErrNotFound = errors.New("not found")

// CorruptStateError indicates a collection file exists but cannot be
// decoded. The store fails closed; the operator must restore the file.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

type accountsFile struct {
	Accounts []api.Account `json:"accounts"`
}

type queueFile struct {
	Tasks []api.QueueTask `json:"tasks"`
}

type historyFile struct {
	Entries []api.PurchaseHistoryEntry `json:"entries"`
}

type subscriptionsFile struct {
	Subscriptions []api.Subscription `json:"subscriptions"`
}

// collection is one persisted file plus its in-memory snapshot. The
// snapshot is authoritative between process restarts; every mutation is
// flushed to disk before the snapshot is replaced.
type collection[T any] struct {
	mu   sync.RWMutex
	path string
	data T
}

func (c *collection[T]) load() error {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return &CorruptStateError{Path: c.path, Err: err}
	}
	return nil
}

// snapshot returns a deep copy of the collection under a shared lock.
func (c *collection[T]) snapshot() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(c.data)
}

// mutate applies fn to a copy of the collection, writes the result to disk
// atomically, and only then replaces the in-memory snapshot. A write
// failure leaves the in-memory state untouched.
func (c *collection[T]) mutate(fn func(*T) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := deepCopy(c.data)
	if err := fn(&next); err != nil {
		return err
	}

	if err := writeAtomic(c.path, next); err != nil {
		return err
	}

	c.data = next
	return nil
}

func deepCopy[T any](v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		// All persisted types are plain data; this cannot fail for them.
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

func writeAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Store owns all persisted collections: accounts, queue, history and
// subscriptions.
type Store struct {
	logger *slog.Logger

	accounts      collection[accountsFile]
	queue         collection[queueFile]
	history       collection[historyFile]
	subscriptions collection[subscriptionsFile]
}

// New opens the store rooted at dir, creating the directory if needed. A
// collection file that exists but cannot be decoded fails the whole load
// with CorruptStateError; there are no silent defaults.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{logger: logger}
	s.accounts.path = filepath.Join(dir, "accounts.json")
	s.queue.path = filepath.Join(dir, "queue.json")
	s.history.path = filepath.Join(dir, "history.json")
	s.subscriptions.path = filepath.Join(dir, "subscriptions.json")

	if err := s.accounts.load(); err != nil {
		return nil, err
	}
	if err := s.queue.load(); err != nil {
		return nil, err
	}
	if err := s.history.load(); err != nil {
		return nil, err
	}
	if err := s.subscriptions.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// ListAccounts returns a snapshot of all accounts.
func (s *Store) ListAccounts() []api.Account {
	return s.accounts.snapshot().Accounts
}

// GetAccount looks up an account by ID.
func (s *Store) GetAccount(id string) (api.Account, bool) {
	for _, account := range s.ListAccounts() {
		if account.ID == id {
			return account, true
		}
	}
	return api.Account{}, false
}

// MutateAccounts applies fn to a copy of the accounts list and persists the
// result atomically.
func (s *Store) MutateAccounts(fn func(accounts *[]api.Account) error) error {
	return s.accounts.mutate(func(file *accountsFile) error {
		return fn(&file.Accounts)
	})
}

// ListTasks returns a snapshot of all queue tasks.
func (s *Store) ListTasks() []api.QueueTask {
	return s.queue.snapshot().Tasks
}

// GetTask looks up a queue task by ID.
func (s *Store) GetTask(id string) (api.QueueTask, bool) {
	for _, task := range s.ListTasks() {
		if task.ID == id {
			return task, true
		}
	}
	return api.QueueTask{}, false
}

// MutateTasks applies fn to a copy of the task list and persists the result
// atomically.
func (s *Store) MutateTasks(fn func(tasks *[]api.QueueTask) error) error {
	return s.queue.mutate(func(file *queueFile) error {
		return fn(&file.Tasks)
	})
}

// UpdateTask applies fn to the task with the given ID. Returns ErrNotFound
// if the task no longer exists.
func (s *Store) UpdateTask(id string, fn func(task *api.QueueTask) error) error {
	return s.MutateTasks(func(tasks *[]api.QueueTask) error {
		for i := range *tasks {
			if (*tasks)[i].ID == id {
				return fn(&(*tasks)[i])
			}
		}
		return ErrNotFound
	})
}

// ListHistory returns a snapshot of all purchase history entries.
func (s *Store) ListHistory() []api.PurchaseHistoryEntry {
	return s.history.snapshot().Entries
}

// AppendHistory appends one purchase history entry, trimming the oldest
// entries beyond the soft cap.
func (s *Store) AppendHistory(entry api.PurchaseHistoryEntry) error {
	return s.history.mutate(func(file *historyFile) error {
		file.Entries = append(file.Entries, entry)
		if excess := len(file.Entries) - api.HistorySoftCap; excess > 0 {
			file.Entries = file.Entries[excess:]
		}
		return nil
	})
}

// MutateHistory applies fn to a copy of the history list and persists the
// result atomically.
func (s *Store) MutateHistory(fn func(entries *[]api.PurchaseHistoryEntry) error) error {
	return s.history.mutate(func(file *historyFile) error {
		return fn(&file.Entries)
	})
}

// ListSubscriptions returns a snapshot of all subscriptions.
func (s *Store) ListSubscriptions() []api.Subscription {
	return s.subscriptions.snapshot().Subscriptions
}

// GetSubscription looks up a subscription by ID.
func (s *Store) GetSubscription(id string) (api.Subscription, bool) {
	for _, subscription := range s.ListSubscriptions() {
		if subscription.ID == id {
			return subscription, true
		}
	}
	return api.Subscription{}, false
}

// MutateSubscriptions applies fn to a copy of the subscription list and
// persists the result atomically.
func (s *Store) MutateSubscriptions(fn func(subscriptions *[]api.Subscription) error) error {
	return s.subscriptions.mutate(func(file *subscriptionsFile) error {
		return fn(&file.Subscriptions)
	})
}

// UpdateSubscription applies fn to the subscription with the given ID.
// Returns ErrNotFound if the subscription no longer exists.
func (s *Store) UpdateSubscription(id string, fn func(subscription *api.Subscription) error) error {
	return s.MutateSubscriptions(func(subscriptions *[]api.Subscription) error {
		for i := range *subscriptions {
			if (*subscriptions)[i].ID == id {
				return fn(&(*subscriptions)[i])
			}
		}
		return ErrNotFound
	})
}

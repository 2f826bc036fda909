package database

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woodchen-ink/OVH/internal/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testTask(id string) api.QueueTask {
	return api.QueueTask{
		ID:            id,
		AccountID:     "account-1",
		PlanCode:      "24ska01",
		Datacenters:   []string{"gra", "rbx"},
		Quantity:      1,
		RetryInterval: 30,
		Status:        api.TaskStatusRunning,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir, testLogger())
	require.NoError(t, err)

	task := testTask("task-1")
	require.NoError(t, store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = append(*tasks, task)
		return nil
	}))

	// A fresh store over the same directory sees the same data.
	reopened, err := New(dir, testLogger())
	require.NoError(t, err)

	got, ok := reopened.GetTask("task-1")
	require.True(t, ok)
	assert.Equal(t, task, got)
}

func TestMutateErrorLeavesStateUntouched(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	require.NoError(t, store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = append(*tasks, testTask("task-1"))
		return nil
	}))

	boom := errors.New("boom")
	err = store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = nil
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Len(t, store.ListTasks(), 1)
}

func TestSnapshotIsolation(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	require.NoError(t, store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = append(*tasks, testTask("task-1"))
		return nil
	}))

	snapshot := store.ListTasks()
	snapshot[0].PlanCode = "mutated"
	snapshot[0].Datacenters[0] = "mutated"

	got, ok := store.GetTask("task-1")
	require.True(t, ok)
	assert.Equal(t, "24ska01", got.PlanCode)
	assert.Equal(t, "gra", got.Datacenters[0])
}

func TestCorruptFileFailsClosed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue.json"), []byte("{not json"), 0o644))

	_, err := New(dir, testLogger())
	var corrupt *CorruptStateError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Path, "queue.json")
}

func TestMissingFilesAreEmptyCollections(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	assert.Empty(t, store.ListAccounts())
	assert.Empty(t, store.ListTasks())
	assert.Empty(t, store.ListHistory())
	assert.Empty(t, store.ListSubscriptions())
}

func TestUpdateTaskNotFound(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	err = store.UpdateTask("missing", func(task *api.QueueTask) error {
		t.Fatal("must not be called")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTaskPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.MutateTasks(func(tasks *[]api.QueueTask) error {
		*tasks = append(*tasks, testTask("task-1"))
		return nil
	}))

	require.NoError(t, store.UpdateTask("task-1", func(task *api.QueueTask) error {
		task.Purchased = 1
		task.Status = api.TaskStatusCompleted
		return nil
	}))

	reopened, err := New(dir, testLogger())
	require.NoError(t, err)

	got, ok := reopened.GetTask("task-1")
	require.True(t, ok)
	assert.Equal(t, 1, got.Purchased)
	assert.Equal(t, api.TaskStatusCompleted, got.Status)
}

func TestAppendHistoryTrimsAtCap(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	// Preload the collection right at the cap in one write.
	require.NoError(t, store.MutateHistory(func(entries *[]api.PurchaseHistoryEntry) error {
		for i := 0; i < api.HistorySoftCap; i++ {
			*entries = append(*entries, api.PurchaseHistoryEntry{ID: "old"})
		}
		return nil
	}))

	require.NoError(t, store.AppendHistory(api.PurchaseHistoryEntry{ID: "new"}))

	entries := store.ListHistory()
	require.Len(t, entries, api.HistorySoftCap)
	assert.Equal(t, "new", entries[len(entries)-1].ID)
	assert.Equal(t, "old", entries[0].ID)
}

func TestWrittenFilesAreIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.MutateAccounts(func(accounts *[]api.Account) error {
		*accounts = append(*accounts, api.Account{ID: "account-1"})
		return nil
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "{\n  \"accounts\": [")
}

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *sqliteHistory {
	t.Helper()
	h, err := openSQLiteHistory(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryAppendFind(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	rc := 2
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := ExecutionSession{
		ID:         "abc123",
		Playbook:   "site.yml",
		Hosts:      []string{"h1", "h2"},
		Status:     StatusFailed,
		ReturnCode: &rc,
		StartedAt:  start,
	}
	require.NoError(t, h.Append(ctx, historyRecordFromSession(s, start.Add(90*time.Second))))

	rec, found, err := h.Find(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "site.yml", rec.Playbook)
	assert.Equal(t, []string{"h1", "h2"}, rec.Hosts)
	assert.Empty(t, rec.Tags)
	assert.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.ReturnCode)
	assert.Equal(t, 2, *rec.ReturnCode)
	assert.Equal(t, int64(90000), rec.DurationMs)
	assert.Equal(t, "2026-03-01T10:00:00.000000000Z", rec.StartedAt)

	_, found, err = h.Find(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHistoryAppendUpserts(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	rec := HistoryRecord{ExecutionID: "x", Playbook: "p.yml", Status: StatusRunning, StartedAt: "a", EndedAt: "b"}
	require.NoError(t, h.Append(ctx, rec))
	rec.Status = StatusCancelled
	require.NoError(t, h.Append(ctx, rec))

	all, err := h.List(ctx, 0, "", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCancelled, all[0].Status)
	assert.Nil(t, all[0].ReturnCode)

	assert.Error(t, h.Append(ctx, HistoryRecord{}))
}

func TestHistoryListFilters(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []struct {
		id, playbook string
		status       Status
	}{
		{"e1", "site.yml", StatusSuccess},
		{"e2", "site.yml", StatusFailed},
		{"e3", "db.yml", StatusSuccess},
		{"e4", "site.yml", StatusSuccess},
	} {
		s := ExecutionSession{ID: r.id, Playbook: r.playbook, Status: r.status, StartedAt: base}
		require.NoError(t, h.Append(ctx, historyRecordFromSession(s, base.Add(time.Duration(i)*time.Minute))))
	}

	tests := []struct {
		name     string
		limit    int
		status   string
		playbook string
		expected []string
	}{
		{"all newest first", 0, "", "", []string{"e4", "e3", "e2", "e1"}},
		{"limit", 2, "", "", []string{"e4", "e3"}},
		{"by status", 0, "success", "", []string{"e4", "e3", "e1"}},
		{"by playbook", 0, "", "site.yml", []string{"e4", "e2", "e1"}},
		{"both", 0, "failed", "site.yml", []string{"e2"}},
		{"no match", 0, "cancelled", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := h.List(ctx, tt.limit, tt.status, tt.playbook)
			require.NoError(t, err)
			ids := []string{}
			for _, r := range records {
				ids = append(ids, r.ExecutionID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestHistoryReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	h, err := openSQLiteHistory(ctx, path)
	require.NoError(t, err)
	require.NoError(t, h.Append(ctx, HistoryRecord{ExecutionID: "keep", Status: StatusSuccess, StartedAt: "a", EndedAt: "b"}))
	require.NoError(t, h.Close())

	h, err = openSQLiteHistory(ctx, path)
	require.NoError(t, err)
	defer h.Close()
	_, found, err := h.Find(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenHistoryDisabled(t *testing.T) {
	store, err := openHistory(context.Background(), HistoryConfig{Disabled: true, Path: "/nonexistent/history.db"})
	require.NoError(t, err)
	_, isNop := store.(nopHistory)
	assert.True(t, isNop)

	records, err := store.List(context.Background(), 10, "", "")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, store.Append(context.Background(), HistoryRecord{ExecutionID: "x"}))
}

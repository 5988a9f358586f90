package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

type fakeBlobWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobWriter() *fakeBlobWriter {
	return &fakeBlobWriter{objects: make(map[string][]byte)}
}

func (f *fakeBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func TestArchiveRunOnce_ExportsSettledRecords(t *testing.T) {
	users := newFakeUserStore()
	preds := newFakePredictionStore(users)
	battles := newFakeBattleStore(users)
	blob := newFakeBlobWriter()

	old := time.Now().Add(-72 * time.Hour)
	won := true
	endPrice := 1.5
	require.NoError(t, preds.Create(context.Background(), domain.Prediction{
		ID: "p1", UserID: "alice", TokenID: "pepe", TokenName: "PEPE",
		Timeframe: domain.Timeframe1h, Direction: domain.DirectionUp,
		PointsWagered: 100, PriceAtStart: 1.0, PriceAtEnd: &endPrice,
		ExpiresAt: old, IsResolved: true, IsWon: &won, CreatedAt: old,
	}))
	// Unresolved predictions stay out of the archive.
	require.NoError(t, preds.Create(context.Background(), domain.Prediction{
		ID: "p2", UserID: "bob", TokenID: "doge", TokenName: "DOGE",
		Timeframe: domain.Timeframe1h, Direction: domain.DirectionDown,
		PointsWagered: 50, PriceAtStart: 2.0,
		ExpiresAt: old, CreatedAt: old,
	}))
	require.NoError(t, battles.Create(context.Background(), domain.Battle{
		ID: "b1", ChannelID: "chan-1", CreatorID: "alice", CreatorToken: "pepe",
		Timeframe: domain.Timeframe1h, Points: 100,
		StartTime: old, EndTime: old.Add(time.Hour),
		Status: domain.BattleStatusSettled, CreatedAt: old,
	}))

	svc := NewArchiveService(preds, battles, blob, 48*time.Hour, time.Hour, discardLogger())
	np, nb, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, np)
	assert.Equal(t, 1, nb)

	require.Len(t, blob.objects, 2)
	stamp := time.Now().UTC().Format("2006-01-02")
	predObj, ok := blob.objects["predictions/"+stamp+".jsonl"]
	require.True(t, ok)

	// One JSON object per line.
	scanner := bufio.NewScanner(bytes.NewReader(predObj))
	lines := 0
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "p1", rec["id"])
		lines++
	}
	assert.Equal(t, 1, lines)
}

func TestArchiveRunOnce_NothingToExport(t *testing.T) {
	blob := newFakeBlobWriter()
	svc := NewArchiveService(newFakePredictionStore(newFakeUserStore()), newFakeBattleStore(newFakeUserStore()), blob,
		48*time.Hour, time.Hour, discardLogger())

	np, nb, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, np)
	assert.Zero(t, nb)
	assert.Empty(t, blob.objects)
}

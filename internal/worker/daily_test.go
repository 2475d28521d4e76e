package worker

import (
	"context"
	"testing"
	"time"

	"flowdesk/backend/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyTrigger_NextRun(t *testing.T) {
	q, client, _ := setupQueue(t)
	d := NewDailyTrigger(client, q, 9, 0, time.UTC, logger.NewNop())

	before := time.Date(2026, 3, 2, 8, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), d.NextRun(before))

	exactly := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), d.NextRun(exactly))

	after := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), d.NextRun(after))
}

func TestDailyTrigger_FireOncePerDay(t *testing.T) {
	q, client, mr := setupQueue(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := NewDailyTrigger(client, q, 9, 0, time.UTC, logger.NewNop())
	second := NewDailyTrigger(client, q, 9, 0, time.UTC, logger.NewNop())

	fired, err := first.Fire(ctx, at)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = second.Fire(ctx, at)
	require.NoError(t, err)
	assert.False(t, fired)

	assert.True(t, mr.Exists("flowdesk:daily:2026-03-02"))

	scheduled, err := q.Scheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, JobTypeDailySummary, scheduled[0].Type)

	var payload DailySummaryPayload
	require.NoError(t, scheduled[0].Decode(&payload))
	assert.Equal(t, "2026-03-02", payload.Date)

	fired, err = first.Fire(ctx, at.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, fired)
}

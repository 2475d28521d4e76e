package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"flowdesk/backend/internal/database"
	"flowdesk/backend/internal/lifecycle"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func newTestPool(t *testing.T) *database.DatabasePool {
	t.Helper()
	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:   database.DriverSQLite,
		DSN:      "file::memory:",
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Migrate())
	t.Cleanup(func() { pool.Close() })
	return pool
}

func seedUser(t *testing.T, users repositories.UserRepository, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Name: email, Email: email, Password: "hash", Role: role}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

// recordingQueue keeps every enqueued effect.
type recordingQueue struct {
	mu      sync.Mutex
	effects []lifecycle.Effect
}

func (q *recordingQueue) Enqueue(_ context.Context, effects ...lifecycle.Effect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.effects = append(q.effects, effects...)
	return nil
}

func (q *recordingQueue) take() []lifecycle.Effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.effects
	q.effects = nil
	return out
}

// syncQueue executes effects inline.
type syncQueue struct {
	exec *EffectExecutor
}

func (q syncQueue) Enqueue(ctx context.Context, effects ...lifecycle.Effect) error {
	for _, e := range effects {
		if err := q.exec.Execute(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

type notification struct {
	kind     string
	taskID   uuid.UUID
	userID   uuid.UUID
	timeLeft string
	open     int
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) record(c notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

func (n *recordingNotifier) TaskAssigned(_ context.Context, task *models.Task) error {
	n.record(notification{kind: "assigned", taskID: task.ID, userID: task.AssignedTo})
	return nil
}

func (n *recordingNotifier) TaskReminder(_ context.Context, task *models.Task, timeLeft string) error {
	n.record(notification{kind: "reminder", taskID: task.ID, userID: task.AssignedTo, timeLeft: timeLeft})
	return nil
}

func (n *recordingNotifier) TaskOverdue(_ context.Context, task *models.Task) error {
	n.record(notification{kind: "overdue", taskID: task.ID, userID: task.AssignedTo})
	return nil
}

func (n *recordingNotifier) DailySummary(_ context.Context, userID uuid.UUID, open int, _ string) error {
	n.record(notification{kind: "summary", userID: userID, open: open})
	return nil
}

func (n *recordingNotifier) take() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.calls
	n.calls = nil
	return out
}

func statusPtr(s models.TaskStatus) *models.TaskStatus { return &s }
func strPtr(s string) *string                          { return &s }
func intPtr(i int) *int                                { return &i }
func timePtr(t time.Time) *time.Time                   { return &t }

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createSession(t *testing.T, repo *SessionRepository, initiator, counterpart string) *negotiation.Session {
	t.Helper()
	s := negotiation.NewSession("match", initiator, counterpart, time.Now())
	require.NoError(t, repo.TryCreate(context.Background(), s))
	return s
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, applyMigrations(context.Background(), db, migrationsFS()))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSessionRepository_TryCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending session", func(t *testing.T) {
		repo := NewSessionRepository(openTestDB(t))
		s := createSession(t, repo, "alice", "bob")

		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, negotiation.StatusPending, got.Status)
		assert.Equal(t, "alice", got.Initiator)
		assert.Equal(t, "bob", got.Counterpart)
		assert.Nil(t, got.SurfaceID)
	})

	t.Run("participant already active", func(t *testing.T) {
		repo := NewSessionRepository(openTestDB(t))
		first := createSession(t, repo, "alice", "bob")

		err := repo.TryCreate(ctx, negotiation.NewSession("match", "carol", "alice", time.Now()))
		var aa *negotiation.AlreadyActiveError
		require.ErrorAs(t, err, &aa)
		assert.Equal(t, first.ID, aa.SessionID)
		assert.Equal(t, "alice", aa.Participant)
	})

	t.Run("confirmed pair blocks a reversed pair", func(t *testing.T) {
		repo := NewSessionRepository(openTestDB(t))
		first := createSession(t, repo, "alice", "bob")
		advance(t, repo, first.ID, negotiation.StatusPending, negotiation.StatusAwaitingResponse)
		advance(t, repo, first.ID, negotiation.StatusAwaitingResponse, negotiation.StatusConfirmed)

		err := repo.TryCreate(ctx, negotiation.NewSession("match", "bob", "alice", time.Now()))
		var aa *negotiation.AlreadyActiveError
		require.ErrorAs(t, err, &aa)
		assert.Equal(t, first.ID, aa.SessionID)

		require.NoError(t, repo.TryCreate(ctx, negotiation.NewSession("match", "alice", "carol", time.Now())))
	})

	t.Run("terminal sessions free the pair", func(t *testing.T) {
		repo := NewSessionRepository(openTestDB(t))
		first := createSession(t, repo, "alice", "bob")
		advance(t, repo, first.ID, negotiation.StatusPending, negotiation.StatusTimedOut)

		createSession(t, repo, "bob", "alice")
	})

	t.Run("self pairing", func(t *testing.T) {
		repo := NewSessionRepository(openTestDB(t))
		err := repo.TryCreate(ctx, negotiation.NewSession("match", "alice", "alice", time.Now()))
		assert.ErrorIs(t, err, negotiation.ErrSelfPairing)
	})
}

func TestSessionRepository_TryCreateConcurrent(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.TryCreate(ctx, negotiation.NewSession("match", "alice", fmt.Sprintf("p%d", i), time.Now()))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, negotiation.ErrAlreadyActive)
	}
	assert.Equal(t, 1, created)

	active, err := repo.GetActiveFor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, negotiation.StatusPending, active.Status)
}

func TestSessionRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))
	s := createSession(t, repo, "alice", "bob")

	t.Run("illegal edge", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, s.ID, negotiation.StatusPending, negotiation.StatusConfirmed, negotiation.Update{})
		assert.ErrorIs(t, err, negotiation.ErrInvalidTransition)
	})

	t.Run("stale from", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, s.ID, negotiation.StatusAwaitingResponse, negotiation.StatusConfirmed, negotiation.Update{})
		assert.ErrorIs(t, err, negotiation.ErrStaleTransition)
	})

	t.Run("missing session", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, uuid.New(), negotiation.StatusPending, negotiation.StatusAwaitingResponse, negotiation.Update{})
		assert.ErrorIs(t, err, negotiation.ErrNotFound)
	})

	t.Run("confirm writes answers and surface together", func(t *testing.T) {
		advance(t, repo, s.ID, negotiation.StatusPending, negotiation.StatusAwaitingResponse)

		surface := "surface-1"
		answers := []script.Answer{
			{Key: "age", ParticipantID: "bob", Kind: script.AnswerInteger, Int: 34},
			{Key: "opener", ParticipantID: "bob", Kind: script.AnswerText, Text: "hi there"},
			{Key: "confirm_invite", ParticipantID: "alice", Kind: script.AnswerBoolean, Bool: true},
		}
		require.NoError(t, repo.UpdateStatus(ctx, s.ID, negotiation.StatusAwaitingResponse, negotiation.StatusConfirmed,
			negotiation.Update{Answers: answers, SurfaceID: &surface, At: time.Now()}))

		got, err := repo.GetBySurface(ctx, surface)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, negotiation.StatusConfirmed, got.Status)
		assert.Equal(t, answers, got.Answers)
		assert.Equal(t, int64(34), got.Answers[0].Int)
	})

	t.Run("confirmed releases active slots but keeps the pair", func(t *testing.T) {
		createSession(t, repo, "alice", "carol")
		err := repo.TryCreate(ctx, negotiation.NewSession("match", "bob", "alice", time.Now()))
		assert.ErrorIs(t, err, negotiation.ErrAlreadyActive)
	})
}

func TestSessionRepository_GetActiveFor(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	none, err := repo.GetActiveFor(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, none)

	confirmed := createSession(t, repo, "alice", "bob")
	advance(t, repo, confirmed.ID, negotiation.StatusPending, negotiation.StatusAwaitingResponse)
	advance(t, repo, confirmed.ID, negotiation.StatusAwaitingResponse, negotiation.StatusConfirmed)

	got, err := repo.GetActiveFor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, confirmed.ID, got.ID)

	pending := createSession(t, repo, "carol", "alice")
	got, err = repo.GetActiveFor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pending.ID, got.ID)
}

func TestSessionRepository_Close(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))
	s := createSession(t, repo, "alice", "bob")

	assert.ErrorIs(t, repo.Close(ctx, s.ID, time.Now()), negotiation.ErrStaleTransition)
	assert.ErrorIs(t, repo.Close(ctx, uuid.New(), time.Now()), negotiation.ErrNotFound)

	surface := "surface-9"
	advance(t, repo, s.ID, negotiation.StatusPending, negotiation.StatusAwaitingResponse)
	require.NoError(t, repo.UpdateStatus(ctx, s.ID, negotiation.StatusAwaitingResponse, negotiation.StatusConfirmed,
		negotiation.Update{SurfaceID: &surface, Answers: []script.Answer{{Key: "k", ParticipantID: "bob", Kind: script.AnswerText, Text: "v"}}}))

	closedAt := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.Close(ctx, s.ID, closedAt))

	gone, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	history, err := repo.ListCompleted(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, s.ID, history[0].SessionID)
	assert.Equal(t, surface, history[0].SurfaceID)
	assert.True(t, closedAt.Equal(history[0].ClosedAt))

	createSession(t, repo, "bob", "alice")
}

func TestSessionRepository_ListStaleAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(openTestDB(t))

	old := negotiation.NewSession("match", "alice", "bob", time.Now().Add(-time.Hour))
	require.NoError(t, repo.TryCreate(ctx, old))
	createSession(t, repo, "carol", "dave")

	stale, err := repo.ListStale(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	require.NoError(t, repo.UpdateStatus(ctx, old.ID, negotiation.StatusPending, negotiation.StatusTimedOut,
		negotiation.Update{At: time.Now().Add(-2 * time.Hour)}))

	n, err := repo.PurgeTerminal(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func advance(t *testing.T, repo *SessionRepository, id uuid.UUID, from, to negotiation.Status) {
	t.Helper()
	require.NoError(t, repo.UpdateStatus(context.Background(), id, from, to, negotiation.Update{At: time.Now()}))
}

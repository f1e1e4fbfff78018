package sqlite

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sqlite/migrations"
)

func migrationsFS() fs.FS {
	return migrations.FS
}

func TestProfileRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(openTestDB(t))

	missing, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, missing)

	answers := []script.Answer{
		{Key: "age", ParticipantID: "alice", Kind: script.AnswerInteger, Int: 34},
		{Key: "happy_reason", ParticipantID: "alice", Kind: script.AnswerText, Text: "sunshine"},
	}
	p := profile.NewProfile("alice", "Alice", []string{"woman", "climber"}, answers, time.Now())
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.ElementsMatch(t, []string{"woman", "climber"}, got.Tags)
	assert.Equal(t, answers, got.Answers)

	registered := got.RegisteredAt
	updated := profile.NewProfile("alice", "Ally", []string{"woman"}, answers[:1], time.Now().Add(time.Hour))
	require.NoError(t, repo.Save(ctx, updated))

	got, err = repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Ally", got.DisplayName)
	assert.Equal(t, []string{"woman"}, got.Tags)
	assert.Len(t, got.Answers, 1)
	assert.Equal(t, registered, got.RegisteredAt)
}

func TestProfileRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(openTestDB(t))
	for _, p := range []*profile.Profile{
		profile.NewProfile("alice", "Alice", []string{"woman"}, nil, time.Now()),
		profile.NewProfile("bob", "Bob", []string{"man"}, nil, time.Now()),
		profile.NewProfile("carol", "Carol", []string{"woman"}, nil, time.Now()),
		profile.NewProfile("dana", "Dana", []string{"woman"}, nil, time.Now()),
	} {
		require.NoError(t, repo.Save(ctx, p))
	}

	women, err := repo.List(ctx, profile.Filter{Tag: "woman", Exclude: []string{"carol"}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, women, 2)
	assert.Equal(t, "alice", women[0].ParticipantID)
	assert.Equal(t, "dana", women[1].ParticipantID)

	page, err := repo.List(ctx, profile.Filter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "carol", page[0].ParticipantID)

	assert.Error(t, repo.Save(ctx, &profile.Profile{}))
}

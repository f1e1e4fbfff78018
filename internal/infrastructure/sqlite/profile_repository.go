package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

// ProfileRepository implements profile.Repository.
type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

var _ profile.Repository = (*ProfileRepository)(nil)

func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (participant_id, display_name, registered_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (participant_id) DO UPDATE SET
				display_name = excluded.display_name,
				updated_at = excluded.updated_at
		`, p.ParticipantID, p.DisplayName, toMillis(p.RegisteredAt), toMillis(p.UpdatedAt)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_tags WHERE participant_id = ?`, p.ParticipantID); err != nil {
			return err
		}
		for _, tag := range p.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO profile_tags (participant_id, tag) VALUES (?, ?)`, p.ParticipantID, tag); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_answers WHERE participant_id = ?`, p.ParticipantID); err != nil {
			return err
		}
		for i, a := range p.Answers {
			text, num, flag := answerValues(a)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO profile_answers
				(participant_id, position, answer_key, kind, text_value, int_value, bool_value)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, p.ParticipantID, i, a.Key, string(a.Kind), text, num, flag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) Get(ctx context.Context, participantID string) (*profile.Profile, error) {
	var registered, updated int64
	p := &profile.Profile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT participant_id, display_name, registered_at, updated_at
		FROM profiles WHERE participant_id = ?
	`, participantID).Scan(&p.ParticipantID, &p.DisplayName, &registered, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.RegisteredAt = fromMillis(registered)
	p.UpdatedAt = fromMillis(updated)
	if err := r.loadDetails(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepository) List(ctx context.Context, filter profile.Filter, limit, offset int) ([]*profile.Profile, error) {
	query := `SELECT p.participant_id, p.display_name, p.registered_at, p.updated_at FROM profiles p`
	args := []any{}
	if filter.Tag != "" {
		query += ` JOIN profile_tags t ON t.participant_id = p.participant_id AND t.tag = ?`
		args = append(args, filter.Tag)
	}
	if len(filter.Exclude) > 0 {
		query += ` WHERE p.participant_id NOT IN (` + placeholders(len(filter.Exclude)) + `)`
		for _, id := range filter.Exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY p.participant_id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var out []*profile.Profile
	for rows.Next() {
		var registered, updated int64
		p := &profile.Profile{}
		if err := rows.Scan(&p.ParticipantID, &p.DisplayName, &registered, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		p.RegisteredAt = fromMillis(registered)
		p.UpdatedAt = fromMillis(updated)
		out = append(out, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	for _, p := range out {
		if err := r.loadDetails(ctx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ProfileRepository) loadDetails(ctx context.Context, p *profile.Profile) error {
	rows, err := r.db.QueryContext(ctx, `SELECT tag FROM profile_tags WHERE participant_id = ? ORDER BY tag`, p.ParticipantID)
	if err != nil {
		return fmt.Errorf("load profile tags: %w", err)
	}
	p.Tags = []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			rows.Close()
			return fmt.Errorf("load profile tags: %w", err)
		}
		p.Tags = append(p.Tags, tag)
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT answer_key, kind, text_value, int_value, bool_value
		FROM profile_answers WHERE participant_id = ? ORDER BY position ASC
	`, p.ParticipantID)
	if err != nil {
		return fmt.Errorf("load profile answers: %w", err)
	}
	defer rows.Close()
	p.Answers = []script.Answer{}
	for rows.Next() {
		var key, kind string
		var text sql.NullString
		var num, flag sql.NullInt64
		if err := rows.Scan(&key, &kind, &text, &num, &flag); err != nil {
			return fmt.Errorf("load profile answers: %w", err)
		}
		p.Answers = append(p.Answers, answerFrom(key, p.ParticipantID, kind, text, num, flag))
	}
	return rows.Err()
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

// ProfileRepository implements profile.Repository.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

var _ profile.Repository = (*ProfileRepository)(nil)

func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (participant_id, display_name, registered_at, updated_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (participant_id) DO UPDATE
			SET display_name=EXCLUDED.display_name, updated_at=EXCLUDED.updated_at
		`, p.ParticipantID, p.DisplayName, p.RegisteredAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM profile_tags WHERE participant_id=$1`, p.ParticipantID); err != nil {
			return fmt.Errorf("save profile tags: %w", err)
		}
		if len(p.Tags) > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO profile_tags (participant_id, tag)
				SELECT $1, unnest($2::text[])
			`, p.ParticipantID, p.Tags); err != nil {
				return fmt.Errorf("save profile tags: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM profile_answers WHERE participant_id=$1`, p.ParticipantID); err != nil {
			return fmt.Errorf("save profile answers: %w", err)
		}
		for i, a := range p.Answers {
			text, num, flag := answerValues(a)
			if _, err := tx.Exec(ctx, `
				INSERT INTO profile_answers (participant_id, position, answer_key, kind, text_value, int_value, bool_value)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, p.ParticipantID, i, a.Key, a.Kind, text, num, flag); err != nil {
				return fmt.Errorf("save profile answers: %w", err)
			}
		}
		return nil
	})
}

func (r *ProfileRepository) Get(ctx context.Context, participantID string) (*profile.Profile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT participant_id, display_name, registered_at, updated_at
		FROM profiles WHERE participant_id=$1
	`, participantID)
	p, err := scanProfile(row)
	if err != nil || p == nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepository) List(ctx context.Context, filter profile.Filter, limit, offset int) ([]*profile.Profile, error) {
	query := `SELECT p.participant_id, p.display_name, p.registered_at, p.updated_at FROM profiles p`
	args := []interface{}{}
	idx := 1
	if filter.Tag != "" {
		query += " JOIN profile_tags t ON t.participant_id = p.participant_id AND t.tag=$" + strconv.Itoa(idx)
		args = append(args, filter.Tag)
		idx++
	}
	if len(filter.Exclude) > 0 {
		query += " WHERE NOT (p.participant_id = ANY($" + strconv.Itoa(idx) + "::text[]))"
		args = append(args, filter.Exclude)
		idx++
	}
	query += " ORDER BY p.participant_id ASC LIMIT $" + strconv.Itoa(idx) + " OFFSET $" + strconv.Itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range out {
		if err := r.loadDetails(ctx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ProfileRepository) loadDetails(ctx context.Context, p *profile.Profile) error {
	rows, err := r.pool.Query(ctx, `SELECT tag FROM profile_tags WHERE participant_id=$1 ORDER BY tag`, p.ParticipantID)
	if err != nil {
		return err
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	p.Tags = tags

	rows, err = r.pool.Query(ctx, `
		SELECT answer_key, kind, text_value, int_value, bool_value
		FROM profile_answers WHERE participant_id=$1 ORDER BY position ASC
	`, p.ParticipantID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Answers = []script.Answer{}
	for rows.Next() {
		a := script.Answer{ParticipantID: p.ParticipantID}
		var text *string
		var num *int64
		var flag *bool
		if err := rows.Scan(&a.Key, &a.Kind, &text, &num, &flag); err != nil {
			return err
		}
		fillAnswer(&a, text, num, flag)
		p.Answers = append(p.Answers, a)
	}
	return rows.Err()
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Profile
	if err := row.Scan(&p.ParticipantID, &p.DisplayName, &p.RegisteredAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.RegisteredAt = p.RegisteredAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

const (
	uniqueViolation = "23505"

	sessionColumns = `session_id, script_id, initiator, counterpart, status, surface_id, created_at, updated_at`
)

// SessionRepository implements negotiation.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

var _ negotiation.Repository = (*SessionRepository)(nil)

func (r *SessionRepository) TryCreate(ctx context.Context, s *negotiation.Session) error {
	if s.Initiator == s.Counterpart {
		return negotiation.ErrSelfPairing
	}
	low, high := s.PairKey()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := findConflict(ctx, tx, s); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO sessions
			(session_id, script_id, initiator, counterpart, pair_low, pair_high, status, surface_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8,$9)
		`, s.ID, s.ScriptID, s.Initiator, s.Counterpart, low, high, negotiation.StatusPending, s.CreatedAt, s.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO active_slots (participant_id, session_id) VALUES ($1,$3), ($2,$3)
		`, s.Initiator, s.Counterpart, s.ID)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// A concurrent create won the race; report the session that holds the slot or pair.
		if cerr := findConflict(ctx, r.pool, s); cerr != nil {
			return storeErr("create", cerr)
		}
	}
	return storeErr("create", err)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findConflict(ctx context.Context, q querier, s *negotiation.Session) error {
	var participant string
	var sessionID uuid.UUID
	err := q.QueryRow(ctx, `
		SELECT participant_id, session_id FROM active_slots
		WHERE participant_id IN ($1, $2)
		ORDER BY (participant_id = $1) DESC
		LIMIT 1
	`, s.Initiator, s.Counterpart).Scan(&participant, &sessionID)
	if err == nil {
		return &negotiation.AlreadyActiveError{SessionID: sessionID, Participant: participant}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	low, high := s.PairKey()
	err = q.QueryRow(ctx, `
		SELECT session_id FROM sessions
		WHERE pair_low=$1 AND pair_high=$2 AND status IN ('PENDING','AWAITING_RESPONSE','CONFIRMED')
		LIMIT 1
	`, low, high).Scan(&sessionID)
	if err == nil {
		return &negotiation.AlreadyActiveError{SessionID: sessionID}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*negotiation.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id=$1`, sessionID)
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get", err)
}

func (r *SessionRepository) GetBySurface(ctx context.Context, surfaceID string) (*negotiation.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE surface_id=$1`, surfaceID)
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get by surface", err)
}

func (r *SessionRepository) GetActiveFor(ctx context.Context, participant string) (*negotiation.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE (initiator=$1 OR counterpart=$1)
		  AND status IN ('PENDING','AWAITING_RESPONSE','CONFIRMED')
		ORDER BY (status = 'CONFIRMED') ASC, updated_at DESC
		LIMIT 1
	`, participant)
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get active", err)
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID uuid.UUID, from, to negotiation.Status, update negotiation.Update) error {
	if !negotiation.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", negotiation.ErrInvalidTransition, from, to)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET status=$1, updated_at=$2, surface_id=COALESCE($3, surface_id)
			WHERE session_id=$4 AND status=$5
		`, to, at, update.SurfaceID, sessionID, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, sessionID)
		}
		if update.Answers != nil {
			if err := replaceSessionAnswers(ctx, tx, sessionID, update.Answers); err != nil {
				return err
			}
		}
		if from.IsActive() && !to.IsActive() {
			if _, err := tx.Exec(ctx, `DELETE FROM active_slots WHERE session_id=$1`, sessionID); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("update status", err)
}

func (r *SessionRepository) Close(ctx context.Context, sessionID uuid.UUID, closedAt time.Time) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id=$1 FOR UPDATE`, sessionID))
		if err != nil {
			return err
		}
		if s == nil {
			return negotiation.ErrNotFound
		}
		if s.Status != negotiation.StatusConfirmed {
			return negotiation.ErrStaleTransition
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO completed_pairings (session_id, script_id, initiator, counterpart, surface_id, closed_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, s.ID, s.ScriptID, s.Initiator, s.Counterpart, s.Surface(), closedAt.UTC()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM sessions WHERE session_id=$1`, sessionID)
		return err
	})
	return storeErr("close", err)
}

func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*negotiation.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('PENDING','AWAITING_RESPONSE') AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, storeErr("list stale", err)
	}
	var out []*negotiation.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr("list stale", err)
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("list stale", err)
	}
	for _, s := range out {
		if s.Answers, err = loadSessionAnswers(ctx, r.pool, s.ID); err != nil {
			return nil, storeErr("list stale", err)
		}
	}
	return out, nil
}

func (r *SessionRepository) ListCompleted(ctx context.Context, participant string, limit, offset int) ([]*negotiation.CompletedPairing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, script_id, initiator, counterpart, surface_id, closed_at
		FROM completed_pairings
		WHERE initiator=$1 OR counterpart=$1
		ORDER BY closed_at DESC LIMIT $2 OFFSET $3
	`, participant, limit, offset)
	if err != nil {
		return nil, storeErr("list completed", err)
	}
	defer rows.Close()
	var out []*negotiation.CompletedPairing
	for rows.Next() {
		c := &negotiation.CompletedPairing{}
		if err := rows.Scan(&c.SessionID, &c.ScriptID, &c.Initiator, &c.Counterpart, &c.SurfaceID, &c.ClosedAt); err != nil {
			return nil, storeErr("list completed", err)
		}
		c.ClosedAt = c.ClosedAt.UTC()
		out = append(out, c)
	}
	return out, storeErr("list completed", rows.Err())
}

func (r *SessionRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE status IN ('REJECTED','TIMED_OUT','CLOSED') AND updated_at < $1
	`, before)
	if err != nil {
		return 0, storeErr("purge", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) withAnswers(ctx context.Context, row pgx.Row) (*negotiation.Session, error) {
	s, err := scanSession(row)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Answers, err = loadSessionAnswers(ctx, r.pool, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func missingOrStale(ctx context.Context, q querier, sessionID uuid.UUID) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM sessions WHERE session_id=$1`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return negotiation.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: now %s", negotiation.ErrStaleTransition, status)
}

func replaceSessionAnswers(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, answers []script.Answer) error {
	if _, err := tx.Exec(ctx, `DELETE FROM session_answers WHERE session_id=$1`, sessionID); err != nil {
		return err
	}
	for i, a := range answers {
		text, num, flag := answerValues(a)
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_answers
			(session_id, position, answer_key, participant_id, kind, text_value, int_value, bool_value)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sessionID, i, a.Key, a.ParticipantID, a.Kind, text, num, flag); err != nil {
			return err
		}
	}
	return nil
}

func loadSessionAnswers(ctx context.Context, q querier, sessionID uuid.UUID) ([]script.Answer, error) {
	rows, err := q.Query(ctx, `
		SELECT answer_key, participant_id, kind, text_value, int_value, bool_value
		FROM session_answers WHERE session_id=$1 ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []script.Answer
	for rows.Next() {
		var a script.Answer
		var text *string
		var num *int64
		var flag *bool
		if err := rows.Scan(&a.Key, &a.ParticipantID, &a.Kind, &text, &num, &flag); err != nil {
			return nil, err
		}
		fillAnswer(&a, text, num, flag)
		out = append(out, a)
	}
	return out, rows.Err()
}

func answerValues(a script.Answer) (*string, *int64, *bool) {
	switch a.Kind {
	case script.AnswerInteger:
		v := a.Int
		return nil, &v, nil
	case script.AnswerBoolean:
		v := a.Bool
		return nil, nil, &v
	default:
		v := a.Text
		return &v, nil, nil
	}
}

func fillAnswer(a *script.Answer, text *string, num *int64, flag *bool) {
	if text != nil {
		a.Text = *text
	}
	if num != nil {
		a.Int = *num
	}
	if flag != nil {
		a.Bool = *flag
	}
}

func scanSession(row pgx.Row) (*negotiation.Session, error) {
	var s negotiation.Session
	if err := row.Scan(&s.ID, &s.ScriptID, &s.Initiator, &s.Counterpart, &s.Status, &s.SurfaceID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var aa *negotiation.AlreadyActiveError
	switch {
	case errors.As(err, &aa),
		errors.Is(err, negotiation.ErrSelfPairing),
		errors.Is(err, negotiation.ErrNotFound),
		errors.Is(err, negotiation.ErrStaleTransition),
		errors.Is(err, negotiation.ErrInvalidTransition):
		return err
	}
	return &negotiation.StoreError{Op: op, Err: err}
}

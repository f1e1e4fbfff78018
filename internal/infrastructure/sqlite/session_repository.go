package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
)

const sessionColumns = `session_id, script_id, initiator, counterpart, status, surface_id, created_at, updated_at`

var errConflict = errors.New("live session conflict")

// SessionRepository implements negotiation.Repository.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ negotiation.Repository = (*SessionRepository)(nil)

func (r *SessionRepository) TryCreate(ctx context.Context, s *negotiation.Session) error {
	if s.Initiator == s.Counterpart {
		return negotiation.ErrSelfPairing
	}
	low, high := s.PairKey()
	id := s.ID.String()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := findConflict(ctx, tx, s); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions
			(session_id, script_id, initiator, counterpart, pair_low, pair_high, status, surface_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		`, id, s.ScriptID, s.Initiator, s.Counterpart, low, high, string(negotiation.StatusPending), toMillis(s.CreatedAt), toMillis(s.UpdatedAt)); err != nil {
			return err
		}
		for _, p := range []string{s.Initiator, s.Counterpart} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO active_slots (participant_id, session_id) VALUES (?, ?)`, p, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		if cerr := findConflict(ctx, r.db, s); cerr != nil {
			return storeErr("create", cerr)
		}
	}
	return storeErr("create", err)
}

// findConflict returns *AlreadyActiveError when either participant holds an
// active slot or the pair already has a live session.
func findConflict(ctx context.Context, q queryer, s *negotiation.Session) error {
	var participant, sessionID string
	err := q.QueryRowContext(ctx, `
		SELECT participant_id, session_id FROM active_slots
		WHERE participant_id IN (?, ?)
		ORDER BY CASE WHEN participant_id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, s.Initiator, s.Counterpart, s.Initiator).Scan(&participant, &sessionID)
	if err == nil {
		return alreadyActive(sessionID, participant)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	low, high := s.PairKey()
	err = q.QueryRowContext(ctx, `
		SELECT session_id FROM sessions
		WHERE pair_low = ? AND pair_high = ? AND status IN ('PENDING', 'AWAITING_RESPONSE', 'CONFIRMED')
		LIMIT 1
	`, low, high).Scan(&sessionID)
	if err == nil {
		return alreadyActive(sessionID, "")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

func alreadyActive(sessionID, participant string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	return &negotiation.AlreadyActiveError{SessionID: id, Participant: participant}
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*negotiation.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID.String())
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get", err)
}

func (r *SessionRepository) GetBySurface(ctx context.Context, surfaceID string) (*negotiation.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE surface_id = ?`, surfaceID)
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get by surface", err)
}

func (r *SessionRepository) GetActiveFor(ctx context.Context, participant string) (*negotiation.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE (initiator = ? OR counterpart = ?)
		  AND status IN ('PENDING', 'AWAITING_RESPONSE', 'CONFIRMED')
		ORDER BY CASE WHEN status = 'CONFIRMED' THEN 1 ELSE 0 END, updated_at DESC
		LIMIT 1
	`, participant, participant)
	s, err := r.withAnswers(ctx, row)
	return s, storeErr("get active", err)
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID uuid.UUID, from, to negotiation.Status, update negotiation.Update) error {
	if !negotiation.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", negotiation.ErrInvalidTransition, from, to)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now()
	}
	var surface any
	if update.SurfaceID != nil {
		surface = *update.SurfaceID
	}
	id := sessionID.String()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ?, surface_id = COALESCE(?, surface_id)
			WHERE session_id = ? AND status = ?
		`, string(to), toMillis(at), surface, id, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return missingOrStale(ctx, tx, id)
		}
		if update.Answers != nil {
			if err := replaceSessionAnswers(ctx, tx, id, update.Answers); err != nil {
				return err
			}
		}
		if from.IsActive() && !to.IsActive() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM active_slots WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("update status", err)
}

func (r *SessionRepository) Close(ctx context.Context, sessionID uuid.UUID, closedAt time.Time) error {
	id := sessionID.String()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
		if err != nil {
			return err
		}
		if s == nil {
			return negotiation.ErrNotFound
		}
		if s.Status != negotiation.StatusConfirmed {
			return negotiation.ErrStaleTransition
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO completed_pairings (session_id, script_id, initiator, counterpart, surface_id, closed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, s.ScriptID, s.Initiator, s.Counterpart, s.Surface(), toMillis(closedAt)); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM session_answers WHERE session_id = ?`,
			`DELETE FROM active_slots WHERE session_id = ?`,
			`DELETE FROM sessions WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("close", err)
}

func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*negotiation.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('PENDING', 'AWAITING_RESPONSE') AND created_at < ?
		ORDER BY created_at ASC LIMIT ?
	`, toMillis(before), limit)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("list stale", err)
	}
	rows.Close()
	for _, s := range out {
		if s.Answers, err = loadSessionAnswers(ctx, r.db, s.ID.String()); err != nil {
			return nil, storeErr("list stale", err)
		}
	}
	return out, nil
}

func (r *SessionRepository) ListCompleted(ctx context.Context, participant string, limit, offset int) ([]*negotiation.CompletedPairing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, script_id, initiator, counterpart, surface_id, closed_at
		FROM completed_pairings
		WHERE initiator = ? OR counterpart = ?
		ORDER BY closed_at DESC LIMIT ? OFFSET ?
	`, participant, participant, limit, offset)
	if err != nil {
		return nil, storeErr("list completed", err)
	}
	defer rows.Close()
	var out []*negotiation.CompletedPairing
	for rows.Next() {
		var id string
		var closed int64
		c := &negotiation.CompletedPairing{}
		if err := rows.Scan(&id, &c.ScriptID, &c.Initiator, &c.Counterpart, &c.SurfaceID, &closed); err != nil {
			return nil, storeErr("list completed", err)
		}
		if c.SessionID, err = uuid.Parse(id); err != nil {
			return nil, storeErr("list completed", err)
		}
		c.ClosedAt = fromMillis(closed)
		out = append(out, c)
	}
	return out, storeErr("list completed", rows.Err())
}

func (r *SessionRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		cutoff := toMillis(before)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM session_answers WHERE session_id IN (
				SELECT session_id FROM sessions
				WHERE status IN ('REJECTED', 'TIMED_OUT', 'CLOSED') AND updated_at < ?
			)
		`, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM sessions WHERE status IN ('REJECTED', 'TIMED_OUT', 'CLOSED') AND updated_at < ?
		`, cutoff)
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	return purged, storeErr("purge", err)
}

func (r *SessionRepository) withAnswers(ctx context.Context, row *sql.Row) (*negotiation.Session, error) {
	s, err := scanSession(row)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Answers, err = loadSessionAnswers(ctx, r.db, s.ID.String()); err != nil {
		return nil, err
	}
	return s, nil
}

func missingOrStale(ctx context.Context, q queryer, id string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return negotiation.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: now %s", negotiation.ErrStaleTransition, status)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*negotiation.Session, error) {
	var id, status string
	var surface sql.NullString
	var created, updated int64
	s := &negotiation.Session{}
	err := row.Scan(&id, &s.ScriptID, &s.Initiator, &s.Counterpart, &status, &surface, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	s.Status = negotiation.Status(status)
	if surface.Valid {
		v := surface.String
		s.SurfaceID = &v
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}

// storeErr wraps storage faults, leaving domain outcomes untouched.
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

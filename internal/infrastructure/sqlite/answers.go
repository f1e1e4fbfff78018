package sqlite

import (
	"context"
	"database/sql"

	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

func answerValues(a script.Answer) (sql.NullString, sql.NullInt64, sql.NullInt64) {
	var text sql.NullString
	var num, flag sql.NullInt64
	switch a.Kind {
	case script.AnswerInteger:
		num = sql.NullInt64{Int64: a.Int, Valid: true}
	case script.AnswerBoolean:
		flag = sql.NullInt64{Valid: true}
		if a.Bool {
			flag.Int64 = 1
		}
	default:
		text = sql.NullString{String: a.Text, Valid: true}
	}
	return text, num, flag
}

func answerFrom(key, participant, kind string, text sql.NullString, num, flag sql.NullInt64) script.Answer {
	return script.Answer{
		Key:           key,
		ParticipantID: participant,
		Kind:          script.AnswerKind(kind),
		Text:          text.String,
		Int:           num.Int64,
		Bool:          flag.Valid && flag.Int64 != 0,
	}
}

func replaceSessionAnswers(ctx context.Context, tx *sql.Tx, sessionID string, answers []script.Answer) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_answers WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for i, a := range answers {
		text, num, flag := answerValues(a)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_answers
			(session_id, position, answer_key, participant_id, kind, text_value, int_value, bool_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, i, a.Key, a.ParticipantID, string(a.Kind), text, num, flag); err != nil {
			return err
		}
	}
	return nil
}

func loadSessionAnswers(ctx context.Context, q queryer, sessionID string) ([]script.Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT answer_key, participant_id, kind, text_value, int_value, bool_value
		FROM session_answers WHERE session_id = ? ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []script.Answer
	for rows.Next() {
		var key, participant, kind string
		var text sql.NullString
		var num, flag sql.NullInt64
		if err := rows.Scan(&key, &participant, &kind, &text, &num, &flag); err != nil {
			return nil, err
		}
		out = append(out, answerFrom(key, participant, kind, text, num, flag))
	}
	return out, rows.Err()
}

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/transport"
)

// Settlement is a journaled push outcome.
type Settlement struct {
	ID         string           `json:"id"`
	MutationID string           `json:"mutation_id"`
	Event      string           `json:"event"`
	Status     transport.Status `json:"status"`
	Payload    json.RawMessage  `json:"payload"`
	Seq        int64            `json:"seq"`
}

// ReadActions returns every journaled action in seq order.
// Returns an empty slice (not nil) for an empty journal.
func (j *Journal) ReadActions(ctx context.Context) ([]ir.Action, error) {
	return j.queryActions(ctx, `
		SELECT seq, type, payload
		FROM actions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// ReadMutation returns the actions dispatched for one mutation id.
func (j *Journal) ReadMutation(ctx context.Context, mutationID string) ([]ir.Action, error) {
	return j.queryActions(ctx, `
		SELECT seq, type, payload
		FROM actions
		WHERE mutation_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, mutationID)
}

func (j *Journal) queryActions(ctx context.Context, query string, args ...any) ([]ir.Action, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []ir.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

func scanAction(rows *sql.Rows) (ir.Action, error) {
	var (
		seq     int64
		typ     string
		payload string
	)
	if err := rows.Scan(&seq, &typ, &payload); err != nil {
		return ir.Action{}, fmt.Errorf("scan action: %w", err)
	}
	obj, err := ir.DecodeObject([]byte(payload))
	if err != nil {
		return ir.Action{}, fmt.Errorf("action %d payload: %w", seq, err)
	}
	a, err := ir.ActionFromPayload(ir.ActionType(typ), seq, obj)
	if err != nil {
		return ir.Action{}, fmt.Errorf("action %d: %w", seq, err)
	}
	return a, nil
}

// ReadSettlements returns every journaled settlement in seq order.
func (j *Journal) ReadSettlements(ctx context.Context) ([]Settlement, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, mutation_id, event, status, payload, seq
		FROM settlements
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	settlements := []Settlement{}
	for rows.Next() {
		var (
			s       Settlement
			status  string
			payload string
		)
		if err := rows.Scan(&s.ID, &s.MutationID, &s.Event, &status, &payload, &s.Seq); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		s.Status = transport.Status(status)
		s.Payload = json.RawMessage(payload)
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return settlements, nil
}

// LastSeq returns the highest action seq, or 0 for an empty journal.
// A new session continues numbering after it so sessions never interleave.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM actions").Scan(&last); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return last.Int64, nil
}

package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/retrosync/internal/ir"
	"github.com/roach88/retrosync/internal/transport"
)

// WriteAction appends an applied action.
// Uses ON CONFLICT(id) DO NOTHING: the id covers type, seq and payload,
// so rewriting the same action is silently ignored.
func (j *Journal) WriteAction(ctx context.Context, a ir.Action) error {
	id, err := ir.ActionID(a)
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	payload, err := marshalPayload(a)
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO actions (id, seq, type, mutation_id, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		a.Seq,
		string(a.Type),
		a.MutationID,
		payload,
	)
	if err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

// RecordSettlement appends the outcome of a push.
// A mutation settles once; a second settlement for the same mutation id
// is silently ignored.
func (j *Journal) RecordSettlement(ctx context.Context, mutationID, event string, s transport.Settlement) error {
	payload, err := marshalResponse(s.Payload)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	seq := j.settlementSeq.Add(1)

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO settlements (id, mutation_id, event, status, payload, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ir.SettlementID(mutationID, string(s.Status), seq),
		mutationID,
		event,
		string(s.Status),
		payload,
		seq,
	)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// marshalPayload converts an action's payload to canonical JSON TEXT.
func marshalPayload(a ir.Action) (string, error) {
	obj, err := a.Payload()
	if err != nil {
		return "", err
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// marshalResponse canonicalizes a server response. Text that is not JSON
// is stored as a JSON string; an empty response as null.
func marshalResponse(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	v, err := ir.UnmarshalValue(raw)
	if err != nil {
		v = ir.String(string(raw))
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(data), nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/flare152/flare-im/internal/envelope"
)

// OperationStore persists the edit/recall/reaction/pin/mark/read side
// tables a Operation-typed envelope drives, grounded on
// flare-storage/writer/src/infrastructure/persistence/operation_store.rs.
// message_operation_history always gets a row; the specific table also
// written depends on operation.Kind.
type OperationStore struct {
	db *sql.DB
}

// NewOperationStore constructs an OperationStore over an existing pool.
func NewOperationStore(db *sql.DB) *OperationStore {
	return &OperationStore{db: db}
}

// Apply records one operation against message_operation_history and, for
// kinds with a dedicated table, upserts that table too.
func (s *OperationStore) Apply(ctx context.Context, tenantID, conversationID string, op envelope.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: operations: begin tx: %w", err)
	}
	defer tx.Rollback()

	switch op.Kind {
	case envelope.OperationEdit:
		if err := s.applyEdit(ctx, tx, tenantID, op); err != nil {
			return err
		}
	case envelope.OperationRead:
		if err := s.applyRead(ctx, tx, tenantID, op); err != nil {
			return err
		}
	case envelope.OperationReact:
		if err := s.applyReaction(ctx, tx, tenantID, op); err != nil {
			return err
		}
	case envelope.OperationPin:
		if err := s.applyPin(ctx, tx, tenantID, conversationID, op); err != nil {
			return err
		}
	case envelope.OperationMark:
		if err := s.applyMark(ctx, tx, tenantID, conversationID, op); err != nil {
			return err
		}
	case envelope.OperationRecall:
		// Recall has no dedicated table; only the history row below is
		// written. Nothing here sets the target message's IsRecalled flag.
	}

	if err := s.appendHistory(ctx, tx, tenantID, op); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *OperationStore) applyEdit(ctx context.Context, tx *sql.Tx, tenantID string, op envelope.Operation) error {
	content, _ := op.Data["content"].([]byte)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_edit_history (tenant_id, message_id, edit_version, content, editor_id, reason, show_edited_mark)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		ON CONFLICT (tenant_id, message_id, edit_version) DO NOTHING
	`, tenantID, op.TargetID, op.AppliedTs, content, op.ActorID, op.Data["reason"])
	if err != nil {
		return fmt.Errorf("storage: operations: edit history: %w", err)
	}
	return nil
}

func (s *OperationStore) applyRead(ctx context.Context, tx *sql.Tx, tenantID string, op envelope.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_read_records (tenant_id, message_id, user_id, read_at)
		VALUES ($1, $2, $3, to_timestamp($4 / 1000.0))
		ON CONFLICT (tenant_id, message_id, user_id)
		DO UPDATE SET read_at = EXCLUDED.read_at
	`, tenantID, op.TargetID, op.ActorID, op.AppliedTs)
	if err != nil {
		return fmt.Errorf("storage: operations: read record: %w", err)
	}
	return nil
}

func (s *OperationStore) applyReaction(ctx context.Context, tx *sql.Tx, tenantID string, op envelope.Operation) error {
	emoji, _ := op.Data["emoji"].(string)
	add, _ := op.Data["add"].(bool)

	row := tx.QueryRowContext(ctx, `
		SELECT user_ids, count FROM message_reactions
		WHERE tenant_id = $1 AND message_id = $2 AND emoji = $3
	`, tenantID, op.TargetID, emoji)

	var userIDs pq.StringArray
	var count int
	switch err := row.Scan(&userIDs, &count); err {
	case sql.ErrNoRows:
		if add {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO message_reactions (tenant_id, message_id, emoji, user_ids, count, last_updated)
				VALUES ($1, $2, $3, $4, 1, now())
			`, tenantID, op.TargetID, emoji, pq.StringArray{op.ActorID})
			if err != nil {
				return fmt.Errorf("storage: operations: insert reaction: %w", err)
			}
		}
		return nil
	case nil:
		// fallthrough to update/delete below
	default:
		return fmt.Errorf("storage: operations: lookup reaction: %w", err)
	}

	userIDs, count = toggleReactor(userIDs, count, op.ActorID, add)
	if count > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE message_reactions SET user_ids = $1, count = $2, last_updated = now()
			WHERE tenant_id = $3 AND message_id = $4 AND emoji = $5
		`, userIDs, count, tenantID, op.TargetID, emoji)
		if err != nil {
			return fmt.Errorf("storage: operations: update reaction: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE tenant_id = $1 AND message_id = $2 AND emoji = $3
	`, tenantID, op.TargetID, emoji)
	if err != nil {
		return fmt.Errorf("storage: operations: delete reaction: %w", err)
	}
	return nil
}

func toggleReactor(userIDs pq.StringArray, count int, actorID string, add bool) (pq.StringArray, int) {
	idx := -1
	for i, u := range userIDs {
		if u == actorID {
			idx = i
			break
		}
	}
	if add {
		if idx == -1 {
			userIDs = append(userIDs, actorID)
			count++
		}
		return userIDs, count
	}
	if idx != -1 {
		userIDs = append(userIDs[:idx], userIDs[idx+1:]...)
		count--
	}
	if count < 0 {
		count = 0
	}
	return userIDs, count
}

func (s *OperationStore) applyPin(ctx context.Context, tx *sql.Tx, tenantID, conversationID string, op envelope.Operation) error {
	pin, _ := op.Data["pin"].(bool)
	if pin {
		reason, _ := op.Data["reason"].(string)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pinned_messages (tenant_id, message_id, conversation_id, pinned_by, pinned_at, reason)
			VALUES ($1, $2, $3, $4, now(), $5)
			ON CONFLICT (tenant_id, conversation_id, message_id)
			DO UPDATE SET pinned_by = EXCLUDED.pinned_by, pinned_at = EXCLUDED.pinned_at, reason = EXCLUDED.reason
		`, tenantID, op.TargetID, conversationID, op.ActorID, reason)
		if err != nil {
			return fmt.Errorf("storage: operations: pin: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM pinned_messages WHERE tenant_id = $1 AND message_id = $2 AND conversation_id = $3
	`, tenantID, op.TargetID, conversationID)
	if err != nil {
		return fmt.Errorf("storage: operations: unpin: %w", err)
	}
	return nil
}

func (s *OperationStore) applyMark(ctx context.Context, tx *sql.Tx, tenantID, conversationID string, op envelope.Operation) error {
	markType, _ := op.Data["mark_type"].(string)
	add, _ := op.Data["add"].(bool)
	if add {
		color, _ := op.Data["color"].(string)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO marked_messages (tenant_id, message_id, user_id, conversation_id, mark_type, color, marked_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (tenant_id, message_id, user_id, mark_type)
			DO UPDATE SET color = EXCLUDED.color, marked_at = EXCLUDED.marked_at
		`, tenantID, op.TargetID, op.ActorID, conversationID, markType, color)
		if err != nil {
			return fmt.Errorf("storage: operations: mark: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM marked_messages WHERE tenant_id = $1 AND message_id = $2 AND user_id = $3 AND mark_type = $4
	`, tenantID, op.TargetID, op.ActorID, markType)
	if err != nil {
		return fmt.Errorf("storage: operations: unmark: %w", err)
	}
	return nil
}

func (s *OperationStore) appendHistory(ctx context.Context, tx *sql.Tx, tenantID string, op envelope.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_operation_history (tenant_id, message_id, operation_type, operator_id, timestamp, metadata)
		VALUES ($1, $2, $3, $4, to_timestamp($5 / 1000.0), $6)
	`, tenantID, op.TargetID, string(op.Kind), op.ActorID, op.AppliedTs, jsonbOf(op.Data))
	if err != nil {
		return fmt.Errorf("storage: operations: append history: %w", err)
	}
	return nil
}

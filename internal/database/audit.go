package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"libris/internal/models"
)

func (db *DB) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO assistant_audit_logs (account_id, agent_type, input_text, detected_intent, actions_taken, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AccountID, entry.AgentType, entry.InputText, entry.DetectedIntent,
		nullableJSON(entry.ActionsTaken), nullableJSON(entry.Metadata), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAudit returns the newest audit rows of the account first.
func (db *DB) ListAudit(ctx context.Context, accountID int64, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, account_id, agent_type, input_text, detected_intent, actions_taken, metadata, created_at
		FROM assistant_audit_logs WHERE account_id = ? ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AuditLog, 0)
	for rows.Next() {
		var (
			entry             models.AuditLog
			actions, metadata sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.AgentType, &entry.InputText,
			&entry.DetectedIntent, &actions, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if actions.Valid {
			entry.ActionsTaken = []byte(actions.String)
		}
		if metadata.Valid {
			entry.Metadata = []byte(metadata.String)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

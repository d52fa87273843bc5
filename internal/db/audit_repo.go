package db

import (
	"context"
	"encoding/json"
	"time"

	"slowpress/internal/types"
)

// AuditRepository provides data access for the security_audit table: durable
// append, retention reads, and eviction for the archival job.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates an AuditRepository backed by the given database
// connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append durably records a security audit entry.
func (r *AuditRepository) Append(ctx context.Context, e *types.SecurityAuditEntry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to encode audit details", err)
		}
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO security_audit (id, event_type, user_id, ip, endpoint, severity, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		e.ID,
		e.EventType,
		nilIfEmpty(e.UserID),
		nilIfEmpty(e.IP),
		nilIfEmpty(e.Endpoint),
		string(e.Severity),
		details,
	)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit entry", err)
	}
	return nil
}

// ListExpired returns entries created before the cutoff, oldest first,
// limited to limit rows. Used by the retention job to batch archival.
func (r *AuditRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*types.SecurityAuditEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_type, user_id, ip, endpoint, severity, details, created_at
		 FROM security_audit WHERE created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired audit entries", err)
	}
	defer rows.Close()

	var out []*types.SecurityAuditEntry
	for rows.Next() {
		var e types.SecurityAuditEntry
		var userID, ip, endpoint *string
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &userID, &ip, &endpoint, &e.Severity, &details, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit entry", err)
		}
		if userID != nil {
			e.UserID = *userID
		}
		if ip != nil {
			e.IP = *ip
		}
		if endpoint != nil {
			e.Endpoint = *endpoint
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "corrupt audit details", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired audit entries", err)
	}
	return out, nil
}

// DeleteByIDs removes archived entries. Returns the number of rows deleted.
func (r *AuditRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM security_audit WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete audit entries", err)
	}
	return int(tag.RowsAffected()), nil
}

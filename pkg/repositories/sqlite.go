package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tannerhall/worldvault/pkg/blob"
	"github.com/tannerhall/worldvault/pkg/objects"
)

//go:embed schema.sql
var sqliteSchema string

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and if necessary creates) a SQLite database
// at path and ensures the schema exists.
func NewSQLiteRepository(ctx context.Context, path string) (Repository, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %v", err)
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) GetLease(ctx context.Context, key objects.Key) (*objects.Lease, error) {
	q := `
	SELECT holder_id, token, expires_at, created_at FROM leases
	WHERE world_id = ? AND object_id = ?;
	`
	var holderID, token string
	var expiresAt, createdAt int64
	if err := r.db.QueryRowContext(ctx, q, key.WorldID, key.ObjectID).Scan(&holderID, &token, &expiresAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan lease: %v", err)
	}

	return &objects.Lease{
		Key:       key,
		HolderID:  holderID,
		Token:     token,
		ExpiresAt: time.UnixMilli(expiresAt),
		CreatedAt: time.UnixMilli(createdAt),
	}, nil
}

func (r *SQLiteRepository) ClaimLease(ctx context.Context, lease *objects.Lease, now time.Time) error {
	q := `
	INSERT INTO leases (world_id, object_id, holder_id, token, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (world_id, object_id) DO UPDATE
	SET holder_id = excluded.holder_id, token = excluded.token,
		expires_at = excluded.expires_at, created_at = excluded.created_at
	WHERE leases.expires_at <= ?;
	`
	result, err := r.db.ExecContext(ctx, q,
		lease.Key.WorldID, lease.Key.ObjectID, lease.HolderID, lease.Token,
		lease.ExpiresAt.UnixMilli(), lease.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to claim lease: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %v", err)
	}
	if affected == 0 {
		return &ErrLeaseHeld{}
	}

	return nil
}

func (r *SQLiteRepository) RenewLease(ctx context.Context, key objects.Key, holderID string, token string, expiresAt time.Time, now time.Time) error {
	q := `
	UPDATE leases SET expires_at = ?
	WHERE world_id = ? AND object_id = ? AND holder_id = ? AND token = ? AND expires_at > ?;
	`
	result, err := r.db.ExecContext(ctx, q, expiresAt.UnixMilli(), key.WorldID, key.ObjectID, holderID, token, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to renew lease: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %v", err)
	}
	if affected == 0 {
		return &ErrLeaseHeld{}
	}

	return nil
}

func (r *SQLiteRepository) ReleaseLease(ctx context.Context, key objects.Key, holderID string, token string) error {
	q := `
	DELETE FROM leases
	WHERE world_id = ? AND object_id = ? AND holder_id = ? AND token = ?;
	`
	if _, err := r.db.ExecContext(ctx, q, key.WorldID, key.ObjectID, holderID, token); err != nil {
		return fmt.Errorf("failed to release lease: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) DeleteExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	q := `
	DELETE FROM leases WHERE expires_at <= ?;
	`
	result, err := r.db.ExecContext(ctx, q, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leases: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %v", err)
	}

	return affected, nil
}

func (r *SQLiteRepository) GetState(ctx context.Context, key objects.Key) (*objects.State, error) {
	q := `
	SELECT owner_id, payload, version, updated_at FROM object_states
	WHERE world_id = ? AND object_id = ?;
	`
	var ownerID string
	var payload []byte
	var version, updatedAt int64
	if err := r.db.QueryRowContext(ctx, q, key.WorldID, key.ObjectID).Scan(&ownerID, &payload, &version, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan object state: %v", err)
	}

	decompressed, err := blob.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %v", err)
	}

	return &objects.State{
		Key:       key,
		OwnerID:   ownerID,
		Payload:   decompressed,
		Version:   uint64(version),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

func (r *SQLiteRepository) CompareAndSwapState(ctx context.Context, key objects.Key, expectedVersion uint64, payload []byte, ownerID string, now time.Time) (uint64, error) {
	compressed, err := blob.Compress(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to compress payload: %v", err)
	}

	if expectedVersion == 0 {
		q := `
		INSERT INTO object_states (world_id, object_id, owner_id, payload, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (world_id, object_id) DO NOTHING;
		`
		result, err := r.db.ExecContext(ctx, q, key.WorldID, key.ObjectID, ownerID, compressed, now.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("failed to insert object state: %v", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %v", err)
		}
		if affected == 0 {
			return 0, &ErrVersionMismatch{}
		}
		return 1, nil
	}

	q := `
	UPDATE object_states SET payload = ?, version = version + 1, updated_at = ?
	WHERE world_id = ? AND object_id = ? AND version = ?;
	`
	result, err := r.db.ExecContext(ctx, q, compressed, now.UnixMilli(), key.WorldID, key.ObjectID, int64(expectedVersion))
	if err != nil {
		return 0, fmt.Errorf("failed to update object state: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %v", err)
	}
	if affected == 0 {
		return 0, &ErrVersionMismatch{}
	}

	return expectedVersion + 1, nil
}

package repositories

import (
	"context"
	"fmt"

	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tannerhall/worldvault/pkg/blob"
	"github.com/tannerhall/worldvault/pkg/objects"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS leases (
	world_id TEXT NOT NULL,
	object_id TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	token TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (world_id, object_id)
);
CREATE TABLE IF NOT EXISTS object_states (
	world_id TEXT NOT NULL,
	object_id TEXT NOT NULL,
	owner_id TEXT NOT NULL DEFAULT '',
	payload BYTEA NOT NULL,
	version BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (world_id, object_id)
);
`

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository creates a new PostgresRepository.
// It panics if it is unable to connect to the database.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) Repository {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Unable to connect to database: %v\n", err))
	}

	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		panic(fmt.Sprintf("Unable to ensure schema: %v\n", err))
	}

	return &PostgresRepository{
		conn: conn,
	}
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) GetLease(ctx context.Context, key objects.Key) (*objects.Lease, error) {
	q := `
	SELECT holder_id, token, expires_at, created_at FROM leases
	WHERE world_id = $1 AND object_id = $2;
	`
	var holderID, token string
	var expiresAt, createdAt int64
	if err := r.conn.QueryRow(ctx, q, key.WorldID, key.ObjectID).Scan(&holderID, &token, &expiresAt, &createdAt); err != nil {
		if err == pgx.ErrNoRows {
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

func (r *PostgresRepository) ClaimLease(ctx context.Context, lease *objects.Lease, now time.Time) error {
	q := `
	INSERT INTO leases (world_id, object_id, holder_id, token, expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (world_id, object_id) DO UPDATE
	SET holder_id = EXCLUDED.holder_id, token = EXCLUDED.token,
		expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	WHERE leases.expires_at <= $7;
	`
	tag, err := r.conn.Exec(ctx, q,
		lease.Key.WorldID, lease.Key.ObjectID, lease.HolderID, lease.Token,
		lease.ExpiresAt.UnixMilli(), lease.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to claim lease: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrLeaseHeld{}
	}

	return nil
}

func (r *PostgresRepository) RenewLease(ctx context.Context, key objects.Key, holderID string, token string, expiresAt time.Time, now time.Time) error {
	q := `
	UPDATE leases SET expires_at = $1
	WHERE world_id = $2 AND object_id = $3 AND holder_id = $4 AND token = $5 AND expires_at > $6;
	`
	tag, err := r.conn.Exec(ctx, q, expiresAt.UnixMilli(), key.WorldID, key.ObjectID, holderID, token, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to renew lease: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrLeaseHeld{}
	}

	return nil
}

func (r *PostgresRepository) ReleaseLease(ctx context.Context, key objects.Key, holderID string, token string) error {
	q := `
	DELETE FROM leases
	WHERE world_id = $1 AND object_id = $2 AND holder_id = $3 AND token = $4;
	`
	if _, err := r.conn.Exec(ctx, q, key.WorldID, key.ObjectID, holderID, token); err != nil {
		return fmt.Errorf("failed to release lease: %v", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	q := `
	DELETE FROM leases WHERE expires_at <= $1;
	`
	tag, err := r.conn.Exec(ctx, q, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leases: %v", err)
	}

	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) GetState(ctx context.Context, key objects.Key) (*objects.State, error) {
	q := `
	SELECT owner_id, payload, version, updated_at FROM object_states
	WHERE world_id = $1 AND object_id = $2;
	`
	var ownerID string
	var payload []byte
	var version, updatedAt int64
	if err := r.conn.QueryRow(ctx, q, key.WorldID, key.ObjectID).Scan(&ownerID, &payload, &version, &updatedAt); err != nil {
		if err == pgx.ErrNoRows {
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

func (r *PostgresRepository) CompareAndSwapState(ctx context.Context, key objects.Key, expectedVersion uint64, payload []byte, ownerID string, now time.Time) (uint64, error) {
	compressed, err := blob.Compress(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to compress payload: %v", err)
	}

	if expectedVersion == 0 {
		q := `
		INSERT INTO object_states (world_id, object_id, owner_id, payload, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (world_id, object_id) DO NOTHING;
		`
		tag, err := r.conn.Exec(ctx, q, key.WorldID, key.ObjectID, ownerID, compressed, now.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("failed to insert object state: %v", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, &ErrVersionMismatch{}
		}
		return 1, nil
	}

	q := `
	UPDATE object_states SET payload = $1, version = version + 1, updated_at = $2
	WHERE world_id = $3 AND object_id = $4 AND version = $5;
	`
	tag, err := r.conn.Exec(ctx, q, compressed, now.UnixMilli(), key.WorldID, key.ObjectID, int64(expectedVersion))
	if err != nil {
		return 0, fmt.Errorf("failed to update object state: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, &ErrVersionMismatch{}
	}

	return expectedVersion + 1, nil
}

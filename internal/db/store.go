package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codehunt/internal/domain/hunt"
	"codehunt/internal/observability/metrics"
)

// ErrUserNotFound indicates the user row does not exist yet.
var ErrUserNotFound = errors.New("user not found")

// Store wraps a pgx connection pool and exposes typed helpers over the
// durable entity state: users, hunt items, collectibles, granted instances
// and the append-only attempt log. It implements hunt.Catalog,
// hunt.UserStore and hunt.AttemptSink.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases underlying connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema guarantees required tables exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("ensure_schema", time.Since(start))
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// RunInTx executes fn within a transaction boundary.
func (s *Store) RunInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("run_in_tx", time.Since(start))
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CreateItem inserts a hunt item and its collectible links in one tx,
// returning the new id.
func (s *Store) CreateItem(ctx context.Context, item hunt.HuntItem) (int64, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("create_item", time.Since(start))

	var id int64
	err := s.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
            INSERT INTO hunt_items (code, points, max_claims, active, activation_start, activation_end, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, NOW())
            RETURNING id
        `, item.Code, item.Points, item.MaxClaims, item.Active, item.ActivationStart, item.ActivationEnd).Scan(&id); err != nil {
			return err
		}
		if len(item.CollectibleIDs) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, collID := range item.CollectibleIDs {
			batch.Queue(`
                INSERT INTO hunt_item_collectibles (item_id, collectible_id)
                VALUES ($1, $2)
            `, id, collID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateCollectible inserts a collectible definition and returns its id.
func (s *Store) CreateCollectible(ctx context.Context, coll hunt.Collectible) (int64, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("create_collectible", time.Since(start))

	var id int64
	err := s.pool.QueryRow(ctx, `
        INSERT INTO collectibles (slug, points, active, activation_start, activation_end, limited, remaining, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
        RETURNING id
    `, coll.Slug, coll.Points, coll.Active, coll.ActivationStart, coll.ActivationEnd, coll.Limited, coll.Remaining).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ItemByCode resolves a claim code to its item and linked collectible ids.
func (s *Store) ItemByCode(ctx context.Context, code string) (*hunt.HuntItem, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("item_by_code", time.Since(start))

	var item hunt.HuntItem
	err := s.pool.QueryRow(ctx, `
        SELECT id, code, points, max_claims, claim_count, active, activation_start, activation_end, created_at
        FROM hunt_items
        WHERE code = $1
    `, code).Scan(&item.ID, &item.Code, &item.Points, &item.MaxClaims, &item.ClaimCount,
		&item.Active, &item.ActivationStart, &item.ActivationEnd, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hunt.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
        SELECT collectible_id FROM hunt_item_collectibles WHERE item_id = $1
    `, item.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var collID int64
		if err := rows.Scan(&collID); err != nil {
			return nil, err
		}
		item.CollectibleIDs = append(item.CollectibleIDs, collID)
	}
	return &item, rows.Err()
}

// CollectiblesByIDs fetches the definitions that exist; dangling ids are
// simply absent from the result.
func (s *Store) CollectiblesByIDs(ctx context.Context, ids []int64) ([]hunt.Collectible, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("collectibles_by_ids", time.Since(start))

	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, slug, points, active, activation_start, activation_end, limited, remaining, created_at
        FROM collectibles
        WHERE id = ANY($1)
        ORDER BY id
    `, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []hunt.Collectible
	for rows.Next() {
		var c hunt.Collectible
		if err := rows.Scan(&c.ID, &c.Slug, &c.Points, &c.Active, &c.ActivationStart,
			&c.ActivationEnd, &c.Limited, &c.Remaining, &c.CreatedAt); err != nil {
			return nil, err
		}
		defs = append(defs, c)
	}
	return defs, rows.Err()
}

// EnsureUser upserts the identity-provider-supplied user on first sight.
func (s *Store) EnsureUser(ctx context.Context, id, email string) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("ensure_user", time.Since(start))
	_, err := s.pool.Exec(ctx, `
        INSERT INTO users (id, email, points, created_at)
        VALUES ($1, $2, 0, NOW())
        ON CONFLICT (id) DO NOTHING
    `, id, email)
	return err
}

// GetUser point-reads a user row.
func (s *Store) GetUser(ctx context.Context, id string) (*hunt.User, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("get_user", time.Since(start))

	var u hunt.User
	err := s.pool.QueryRow(ctx, `
        SELECT id, email, points, created_at FROM users WHERE id = $1
    `, id).Scan(&u.ID, &u.Email, &u.Points, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AddPoints atomically increments a user's balance and returns the new total.
func (s *Store) AddPoints(ctx context.Context, userID string, delta int) (int, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("add_points", time.Since(start))

	var total int
	err := s.pool.QueryRow(ctx, `
        UPDATE users SET points = points + $2 WHERE id = $1
        RETURNING points
    `, userID, delta).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return total, err
}

// InsertCollectibleInstance records one granted instance.
func (s *Store) InsertCollectibleInstance(ctx context.Context, inst hunt.CollectibleInstance) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("insert_collectible_instance", time.Since(start))
	_, err := s.pool.Exec(ctx, `
        INSERT INTO collectible_instances (id, user_id, collectible_id, used, added_at)
        VALUES ($1, $2, $3, $4, $5)
    `, inst.ID, inst.UserID, inst.CollectibleID, inst.Used, inst.AddedAt)
	return err
}

// InsertAttempt appends one row to the attempt log. The conditional insert
// makes consumer replays of the same event write nothing twice.
func (s *Store) InsertAttempt(ctx context.Context, rec hunt.AttemptRecord) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("insert_attempt", time.Since(start))
	_, err := s.pool.Exec(ctx, `
        INSERT INTO attempt_log (user_id, code, success, item_id, attempted_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id, code, attempted_at) DO NOTHING
    `, rec.UserID, rec.Code, rec.Success, rec.ItemID, rec.AttemptedAt)
	return err
}

// ApplyClaimMirror replays a committed claim into the durable state in one
// transaction. The conditional (user, item) row insert gates everything
// else, so a redelivered event is a no-op. Granted instance rows key on the
// event-carried uuid, so one lost to an API-side write failure lands here
// while one already written conflicts away. The claim-count mirror carries
// the same bound the hot path enforces; a guard miss on an existing item
// surfaces hunt.ErrInvariantViolation after the claim row is committed.
func (s *Store) ApplyClaimMirror(ctx context.Context, userID string, itemID int64, at time.Time, granted []hunt.GrantedInstance) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("apply_claim_mirror", time.Since(start))

	var violation bool
	err := s.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            INSERT INTO item_claims (user_id, item_id, claimed_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (user_id, item_id) DO NOTHING
        `, userID, itemID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Replay; mirrors were already applied.
			return nil
		}
		tag, err = tx.Exec(ctx, `
            UPDATE hunt_items
            SET claim_count = claim_count + 1
            WHERE id = $1 AND (max_claims IS NULL OR claim_count < max_claims)
        `, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `
                SELECT EXISTS (SELECT 1 FROM hunt_items WHERE id = $1)
            `, itemID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return errors.New("hunt item not found")
			}
			// Keep the claim row, skip the overshooting increment.
			violation = true
			return nil
		}
		for _, g := range granted {
			if _, err := tx.Exec(ctx, `
                INSERT INTO collectible_instances (id, user_id, collectible_id, used, added_at)
                VALUES ($1, $2, $3, FALSE, $4)
                ON CONFLICT (id) DO NOTHING
            `, g.InstanceID, userID, g.CollectibleID, at); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
                UPDATE collectibles
                SET remaining = remaining - 1
                WHERE id = $1 AND limited AND remaining > 0
            `, g.CollectibleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if violation {
		return hunt.ErrInvariantViolation
	}
	return nil
}

// FreezeItem disables an item whose counters can no longer be trusted.
func (s *Store) FreezeItem(ctx context.Context, itemID int64) error {
	start := time.Now()
	defer metrics.ObserveDBOperation("freeze_item", time.Since(start))
	_, err := s.pool.Exec(ctx, `
        UPDATE hunt_items SET active = FALSE WHERE id = $1
    `, itemID)
	return err
}

// RemoveClaim is the durable half of the admin correction: it deletes the
// (user, item) claim row and conditionally decrements the mirror counter.
// Reports whether a claim row existed.
func (s *Store) RemoveClaim(ctx context.Context, userID string, itemID int64) (bool, error) {
	start := time.Now()
	defer metrics.ObserveDBOperation("remove_claim", time.Since(start))

	var removed bool
	err := s.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            DELETE FROM item_claims WHERE user_id = $1 AND item_id = $2
        `, userID, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		removed = true
		_, err = tx.Exec(ctx, `
            UPDATE hunt_items SET claim_count = claim_count - 1
            WHERE id = $1 AND claim_count > 0
        `, itemID)
		return err
	})
	return removed, err
}

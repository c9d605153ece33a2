package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL. Buckets are keyed by
// scope: "protocol" for the protocol-wide accumulator, a referrer address
// otherwise.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given connection pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// Upsert writes the full bucket snapshot for scope.
func (s *FeeStore) Upsert(ctx context.Context, scope string, bucket domain.FeeBucket) error {
	const query = `
		INSERT INTO fee_buckets (scope, non_matured, matured_non_withdrawn, withdrawn, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			non_matured           = EXCLUDED.non_matured,
			matured_non_withdrawn = EXCLUDED.matured_non_withdrawn,
			withdrawn             = EXCLUDED.withdrawn,
			updated_at            = NOW()`

	_, err := s.pool.Exec(ctx, query,
		scope,
		bucket.NonMatured.String(),
		bucket.MaturedNonWithdrawn.String(),
		bucket.Withdrawn.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert fee bucket %s: %w", scope, err)
	}
	return nil
}

// Get returns the bucket snapshot for scope.
func (s *FeeStore) Get(ctx context.Context, scope string) (domain.FeeBucket, error) {
	const query = `
		SELECT non_matured::text, matured_non_withdrawn::text, withdrawn::text
		FROM fee_buckets WHERE scope = $1`

	var nonMatured, matured, withdrawn string
	err := s.pool.QueryRow(ctx, query, scope).Scan(&nonMatured, &matured, &withdrawn)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FeeBucket{}, domain.ErrNotFound
		}
		return domain.FeeBucket{}, fmt.Errorf("postgres: get fee bucket %s: %w", scope, err)
	}
	return scanBucket(nonMatured, matured, withdrawn)
}

// List returns every stored bucket keyed by scope.
func (s *FeeStore) List(ctx context.Context) (map[string]domain.FeeBucket, error) {
	const query = `
		SELECT scope, non_matured::text, matured_non_withdrawn::text, withdrawn::text
		FROM fee_buckets`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee buckets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.FeeBucket)
	for rows.Next() {
		var scope, nonMatured, matured, withdrawn string
		if err := rows.Scan(&scope, &nonMatured, &matured, &withdrawn); err != nil {
			return nil, fmt.Errorf("postgres: scan fee bucket: %w", err)
		}
		bucket, err := scanBucket(nonMatured, matured, withdrawn)
		if err != nil {
			return nil, err
		}
		out[scope] = bucket
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fee buckets rows: %w", err)
	}
	return out, nil
}

func scanBucket(nonMatured, matured, withdrawn string) (domain.FeeBucket, error) {
	bucket := domain.NewFeeBucket()
	var err error
	if bucket.NonMatured, err = parseBig(nonMatured); err != nil {
		return domain.FeeBucket{}, err
	}
	if bucket.MaturedNonWithdrawn, err = parseBig(matured); err != nil {
		return domain.FeeBucket{}, err
	}
	if bucket.Withdrawn, err = parseBig(withdrawn); err != nil {
		return domain.FeeBucket{}, err
	}
	return bucket, nil
}

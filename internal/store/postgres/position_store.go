package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Token
// amounts cross the wire as decimal strings so 256-bit values survive the
// round trip.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner, cgp, principal::text, pt_amount::text,
	protocol_fee::text, cgp_fee::text, entry_date, maturity_date, exit_date,
	active, strategy_type`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var owner, cgp, principal, ptAmount, protocolFee, cgpFee string
	var exitDate *time.Time

	err := row.Scan(
		&p.ID, &owner, &cgp,
		&principal, &ptAmount, &protocolFee, &cgpFee,
		&p.EntryDate, &p.MaturityDate, &exitDate,
		&p.Active, &p.StrategyType,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Owner = common.HexToAddress(owner)
	p.CGP = common.HexToAddress(cgp)
	if p.Principal, err = parseBig(principal); err != nil {
		return domain.Position{}, err
	}
	if p.PTAmount, err = parseBig(ptAmount); err != nil {
		return domain.Position{}, err
	}
	if p.ProtocolFee, err = parseBig(protocolFee); err != nil {
		return domain.Position{}, err
	}
	if p.CGPFee, err = parseBig(cgpFee); err != nil {
		return domain.Position{}, err
	}
	if exitDate != nil {
		p.ExitDate = *exitDate
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func parseBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: parse numeric %q", s)
	}
	return n, nil
}

// nullableExit maps the zero time to NULL.
func nullableExit(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Create inserts a new position row.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, cgp, principal, pt_amount, protocol_fee, cgp_fee,
			entry_date, maturity_date, exit_date, active, strategy_type, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8, $9, $10, $11, $12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner.Hex(), p.CGP.Hex(),
		p.Principal.String(), p.PTAmount.String(),
		p.ProtocolFee.String(), p.CGPFee.String(),
		p.EntryDate, p.MaturityDate, nullableExit(p.ExitDate),
		p.Active, p.StrategyType,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %d: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			owner        = $2,
			cgp          = $3,
			principal    = $4::numeric,
			pt_amount    = $5::numeric,
			protocol_fee = $6::numeric,
			cgp_fee      = $7::numeric,
			exit_date    = $8,
			active       = $9,
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner.Hex(), p.CGP.Hex(),
		p.Principal.String(), p.PTAmount.String(),
		p.ProtocolFee.String(), p.CGPFee.String(),
		nullableExit(p.ExitDate), p.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %d: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the position with the given ID.
func (s *PositionStore) GetByID(ctx context.Context, id uint64) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns positions held by owner, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1`
	args := []any{common.HexToAddress(owner).Hex()}
	query, args = applyListOpts(query, args, "entry_date", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListAll returns all positions, newest first.
func (s *PositionStore) ListAll(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	query, args = applyListOpts(query, args, "entry_date", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListClosed returns exited positions, newest exit first. The pipeline uses
// this to archive settled history.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE NOT active`
	args := []any{}
	query, args = applyListOpts(query, args, "exit_date", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// applyListOpts appends time filters, ordering and pagination to query.
func applyListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

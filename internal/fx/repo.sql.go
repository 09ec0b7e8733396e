package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed access to the rate table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindRate returns the most recent rate effective on or before date. A
// missing direct quote falls back to the inverse pair.
func (r *Repository) FindRate(ctx context.Context, companyID int64, from, to string, date time.Time) (Rate, error) {
	const query = `SELECT company_id, from_currency, to_currency, rate, effective_at
FROM currency_rates
WHERE company_id = $1 AND from_currency = $2 AND to_currency = $3 AND effective_at <= $4
ORDER BY effective_at DESC
LIMIT 1`
	var rate Rate
	err := r.pool.QueryRow(ctx, query, companyID, from, to, date).
		Scan(&rate.CompanyID, &rate.From, &rate.To, &rate.Rate, &rate.EffectiveAt)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, err
	}
	var inverse Rate
	err = r.pool.QueryRow(ctx, query, companyID, to, from, date).
		Scan(&inverse.CompanyID, &inverse.From, &inverse.To, &inverse.Rate, &inverse.EffectiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rate{}, fmt.Errorf("%w: %s%s as of %s", ErrRateUnavailable, from, to, date.Format("2006-01-02"))
		}
		return Rate{}, err
	}
	if inverse.Rate == 0 {
		return Rate{}, fmt.Errorf("%w: %s%s as of %s", ErrRateUnavailable, from, to, date.Format("2006-01-02"))
	}
	return Rate{
		CompanyID:   inverse.CompanyID,
		From:        from,
		To:          to,
		Rate:        1 / inverse.Rate,
		EffectiveAt: inverse.EffectiveAt,
	}, nil
}

// UpsertRate inserts or replaces a quote for the pair and effective date.
func (r *Repository) UpsertRate(ctx context.Context, rate Rate) error {
	from := strings.ToUpper(strings.TrimSpace(rate.From))
	to := strings.ToUpper(strings.TrimSpace(rate.To))
	if from == "" || to == "" || from == to {
		return fmt.Errorf("fx: invalid currency pair %q -> %q", rate.From, rate.To)
	}
	if rate.Rate <= 0 {
		return fmt.Errorf("fx: rate must be positive for %s%s", from, to)
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO currency_rates (company_id, from_currency, to_currency, rate, effective_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (company_id, from_currency, to_currency, effective_at)
DO UPDATE SET rate = EXCLUDED.rate`,
		rate.CompanyID, from, to, rate.Rate, rate.EffectiveAt)
	return err
}

// ListMissingPairs reports currency pairs referenced by open foreign-currency
// lines that have no quote effective on the given date.
func (r *Repository) ListMissingPairs(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT l.currency, c.currency, l.company_id
FROM move_lines l
JOIN companies c ON c.id = l.company_id
WHERE l.currency IS NOT NULL
  AND l.currency <> c.currency
  AND NOT l.reconciled
  AND NOT EXISTS (
    SELECT 1 FROM currency_rates r
    WHERE r.company_id = l.company_id
      AND ((r.from_currency = l.currency AND r.to_currency = c.currency)
        OR (r.from_currency = c.currency AND r.to_currency = l.currency))
      AND r.effective_at <= $1
  )`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []string
	for rows.Next() {
		var from, to string
		var companyID int64
		if err := rows.Scan(&from, &to, &companyID); err != nil {
			return nil, err
		}
		pairs = append(pairs, fmt.Sprintf("%s%s (company %d)", from, to, companyID))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

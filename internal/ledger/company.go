package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CompanyRepository resolves company-level settings from Postgres.
type CompanyRepository struct {
	pool *pgxpool.Pool
}

// NewCompanyRepository constructs the repository.
func NewCompanyRepository(pool *pgxpool.Pool) *CompanyRepository {
	return &CompanyRepository{pool: pool}
}

// CurrencyCode returns the functional currency of a company.
func (r *CompanyRepository) CurrencyCode(ctx context.Context, companyID int64) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx,
		`SELECT currency FROM companies WHERE id = $1`, companyID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("ledger: company %d not found", companyID)
		}
		return "", err
	}
	return code, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// ReconIntegrityChecker validates invariants of completed reconciliations.
type ReconIntegrityChecker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewReconIntegrityChecker constructs the checker.
func NewReconIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger) *ReconIntegrityChecker {
	return &ReconIntegrityChecker{pool: pool, logger: logger}
}

// Handle processes TaskTypeReconIntegrityScan tasks.
func (c *ReconIntegrityChecker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return c.Run(ctx, payload.CompanyID)
}

// Run scans for reconciliation sets that no longer net to zero and for
// reconciled lines missing their full-reconciliation link. Violations are
// logged, never repaired automatically.
func (c *ReconIntegrityChecker) Run(ctx context.Context, companyID int64) error {
	var unbalanced, orphans []int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		unbalanced, err = c.unbalancedReconciliations(groupCtx, companyID)
		return err
	})
	group.Go(func() error {
		var err error
		orphans, err = c.orphanReconciledLines(groupCtx, companyID)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	for _, id := range unbalanced {
		c.logger.Error("reconciliation does not net to zero",
			slog.Int64("full_reconcile_id", id))
	}
	for _, id := range orphans {
		c.logger.Error("reconciled line missing full reconciliation link",
			slog.Int64("line_id", id))
	}

	c.logger.Info("reconciliation integrity scan finished",
		slog.Int("unbalanced", len(unbalanced)),
		slog.Int("orphans", len(orphans)))
	return nil
}

func (c *ReconIntegrityChecker) unbalancedReconciliations(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := c.pool.Query(ctx, `
SELECT l.full_reconcile_id
FROM move_lines l
WHERE l.full_reconcile_id IS NOT NULL
  AND ($1 = 0 OR l.company_id = $1)
GROUP BY l.full_reconcile_id
HAVING abs(sum(l.debit - l.credit)) >= 0.005`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (c *ReconIntegrityChecker) orphanReconciledLines(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := c.pool.Query(ctx, `
SELECT l.id
FROM move_lines l
WHERE l.reconciled
  AND l.full_reconcile_id IS NULL
  AND ($1 = 0 OR l.company_id = $1)`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

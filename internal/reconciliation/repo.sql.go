package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian-books/internal/ledger"
)

// Repository provides PostgreSQL backed reconciliation queries.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, ledger: ledger.NewRepository(pool)}
}

// fieldColumns maps filter fields onto the LineFrom join aliases.
var fieldColumns = map[Field]string{
	FieldID:                     "l.id",
	FieldAccountID:              "l.account_id",
	FieldAccountCode:            "a.code",
	FieldAccountType:            "a.type",
	FieldPartnerID:              "l.partner_id",
	FieldPartnerName:            "p.name",
	FieldCompanyID:              "l.company_id",
	FieldMoveName:               "m.name",
	FieldMoveRef:                "m.ref",
	FieldMoveState:              "m.state",
	FieldLineName:               "l.name",
	FieldDateMaturity:           "l.date_maturity",
	FieldDebit:                  "l.debit",
	FieldCredit:                 "l.credit",
	FieldAmountResidual:         "l.amount_residual",
	FieldAmountResidualCurrency: "l.amount_residual_currency",
	FieldAmountCurrency:         "l.amount_currency",
	FieldReconciled:             "l.reconciled",
}

// sqlBuilder accumulates a parameterized WHERE clause.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) bind(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

// translate renders a filter expression into SQL. A nil expression renders
// as TRUE (match everything).
func (b *sqlBuilder) translate(expr Expr) (string, error) {
	switch e := expr.(type) {
	case nil:
		return "TRUE", nil
	case Cond:
		return b.cond(e)
	case And:
		if len(e) == 0 {
			return "TRUE", nil
		}
		return b.join([]Expr(e), " AND ")
	case Or:
		if len(e) == 0 {
			return "FALSE", nil
		}
		return b.join([]Expr(e), " OR ")
	default:
		return "", fmt.Errorf("reconciliation: unknown filter expression %T", expr)
	}
}

func (b *sqlBuilder) join(exprs []Expr, sep string) (string, error) {
	parts := make([]string, 0, len(exprs))
	for _, sub := range exprs {
		part, err := b.translate(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// likeEscaper neutralizes ILIKE metacharacters so user text matches
// literally. Backslash is the Postgres default escape character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (b *sqlBuilder) cond(c Cond) (string, error) {
	column, ok := fieldColumns[c.Field]
	if !ok {
		return "", fmt.Errorf("reconciliation: unknown filter field %q", c.Field)
	}
	switch c.Op {
	case OpEq:
		return column + " = " + b.bind(c.Value), nil
	case OpNe:
		return column + " <> " + b.bind(c.Value), nil
	case OpContains:
		value := c.Value
		if s, ok := value.(string); ok {
			value = likeEscaper.Replace(s)
		}
		return column + " ILIKE '%' || " + b.bind(value) + " || '%'", nil
	case OpIn:
		return column + " = ANY(" + b.bind(c.Value) + ")", nil
	case OpNotIn:
		return "NOT (" + column + " = ANY(" + b.bind(c.Value) + "))", nil
	default:
		return "", fmt.Errorf("reconciliation: unknown filter operator %q", c.Op)
	}
}

// GetAccount delegates to the shared ledger projection.
func (r *Repository) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return r.ledger.GetAccount(ctx, id)
}

// GetLines loads ledger lines by id.
func (r *Repository) GetLines(ctx context.Context, ids []int64) ([]ledger.LedgerLine, error) {
	return r.ledger.GetLines(ctx, ids)
}

// SearchLines fetches lines matching the filter, most recent first.
func (r *Repository) SearchLines(ctx context.Context, filter Expr, offset, limit int) ([]ledger.LedgerLine, error) {
	builder := &sqlBuilder{}
	where, err := builder.translate(filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + ledger.LineColumns + ` ` + ledger.LineFrom + ` WHERE ` + where +
		` ORDER BY l.date DESC, l.id DESC OFFSET ` + builder.bind(offset) + ` LIMIT ` + builder.bind(limit)
	rows, err := r.pool.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ledger.LedgerLine
	for rows.Next() {
		line, err := ledger.ScanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// CountLines counts lines matching the filter.
func (r *Repository) CountLines(ctx context.Context, filter Expr) (int, error) {
	builder := &sqlBuilder{}
	where, err := builder.translate(filter)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) `+ledger.LineFrom+` WHERE `+where, builder.args...).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// propositionPairSQL builds the self-join query that pairs two open lines
// on the account with exactly opposite residuals. Both sides must belong to
// posted moves and carry a non-zero balance, and a line never pairs with
// itself.
func propositionPairSQL(q PropositionQuery) (string, []any) {
	args := []any{q.AccountID}
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds := []string{
		"a.account_id = $1",
		"b.account_id = $1",
		"ma.state = 'posted'",
		"mb.state = 'posted'",
		"NOT a.reconciled",
		"NOT b.reconciled",
		"a.amount_residual = -b.amount_residual",
		"a.amount_residual <> 0",
		"a.debit - a.credit <> 0",
		"b.debit - b.credit <> 0",
		"a.id <> b.id",
	}
	if q.PartnerID != nil {
		p := bind(*q.PartnerID)
		conds = append(conds, "a.partner_id = "+p, "b.partner_id = "+p)
	}
	if q.PinnedLineID != nil {
		conds = append(conds, "a.id = "+bind(*q.PinnedLineID))
	}

	query := `SELECT a.id, b.id
FROM move_lines a
JOIN moves ma ON ma.id = a.move_id
JOIN move_lines b ON b.account_id = a.account_id
JOIN moves mb ON mb.id = b.move_id
WHERE ` + strings.Join(conds, "\n  AND ") + `
ORDER BY a.date DESC
LIMIT 1`
	return query, args
}

// FindPropositionPair selects the single best pair of open lines on the
// account whose residual amounts are exact opposites, preferring the pair
// whose first side is most recent. Ties at the newest date are broken
// arbitrarily by the storage engine.
func (r *Repository) FindPropositionPair(ctx context.Context, q PropositionQuery) ([]ledger.LedgerLine, error) {
	query, args := propositionPairSQL(q)

	var idA, idB int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&idA, &idB)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	lines, err := r.GetLines(ctx, []int64{idA, idB})
	if err != nil {
		return nil, err
	}
	if len(lines) != 2 {
		return nil, fmt.Errorf("reconciliation: pair lines %d/%d missing", idA, idB)
	}
	// Keep the (a, b) order of the pairing query.
	if lines[0].ID != idA {
		lines[0], lines[1] = lines[1], lines[0]
	}
	return lines, nil
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepo struct {
	tx pgx.Tx
}

// GetLinesForUpdate loads lines by id with row locks held until commit.
func (tx *txRepo) GetLinesForUpdate(ctx context.Context, ids []int64) ([]ledger.LedgerLine, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.tx.Query(ctx, `SELECT `+ledger.LineColumns+` `+ledger.LineFrom+
		` WHERE l.id = ANY($1) ORDER BY l.id FOR UPDATE OF l`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ledger.LedgerLine
	for rows.Next() {
		line, err := ledger.ScanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Preserve the caller's ordering so the first requested line keeps its
	// role as the write-off counter-account.
	byID := make(map[int64]ledger.LedgerLine, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	ordered := make([]ledger.LedgerLine, 0, len(lines))
	for _, id := range ids {
		if line, ok := byID[id]; ok {
			ordered = append(ordered, line)
		}
	}
	return ordered, nil
}

// CreateMove inserts a draft write-off move with its lines.
func (tx *txRepo) CreateMove(ctx context.Context, input ledger.MoveInput) (ledger.Move, error) {
	return ledger.CreateMoveTx(ctx, tx.tx, input)
}

// PostMove transitions the move to posted.
func (tx *txRepo) PostMove(ctx context.Context, moveID int64) error {
	return ledger.PostMoveTx(ctx, tx.tx, moveID)
}

// MarkReconciled links the lines under a new full reconciliation and zeroes
// their residuals. The guarded UPDATE refuses lines a concurrent commit
// already reconciled, so a line participates in at most one reconciliation.
func (tx *txRepo) MarkReconciled(ctx context.Context, lineIDs []int64) (int64, error) {
	var fullReconcileID int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO full_reconciliations (created_at) VALUES (NOW()) RETURNING id`).
		Scan(&fullReconcileID)
	if err != nil {
		return 0, err
	}
	tag, err := tx.tx.Exec(ctx, `UPDATE move_lines
SET reconciled = TRUE, amount_residual = 0, amount_residual_currency = 0, full_reconcile_id = $1
WHERE id = ANY($2) AND NOT reconciled`, fullReconcileID, lineIDs)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() != int64(len(lineIDs)) {
		return 0, ErrLineAlreadyReconciled
	}
	return fullReconcileID, nil
}

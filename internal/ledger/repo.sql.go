package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LineColumns is the canonical projection for ledger line queries; every
// ScanLine call relies on this order. Shared with the reconciliation
// repository, which queries the same tables.
const LineColumns = `l.id, l.move_id, m.name, m.ref, m.state, l.name,
	l.account_id, a.code, a.name, a.type, l.journal_id, j.name,
	l.partner_id, COALESCE(p.name, ''), l.company_id, l.date, l.date_maturity,
	l.debit, l.credit, l.amount_residual, l.amount_residual_currency,
	COALESCE(l.currency, ''), l.amount_currency, l.reconciled, l.full_reconcile_id`

// LineFrom joins the tables backing the LineColumns projection.
const LineFrom = `FROM move_lines l
	JOIN moves m ON m.id = l.move_id
	JOIN accounts a ON a.id = l.account_id
	JOIN journals j ON j.id = l.journal_id
	LEFT JOIN partners p ON p.id = l.partner_id`

// Repository provides PostgreSQL backed persistence for accounts and moves.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Row is the minimal scan target shared by pgx.Row and pgx.Rows.
type Row interface {
	Scan(dest ...any) error
}

// ScanLine decodes one LineColumns row.
func ScanLine(row Row) (LedgerLine, error) {
	var l LedgerLine
	var currency string
	err := row.Scan(&l.ID, &l.MoveID, &l.MoveName, &l.MoveRef, &l.MoveState, &l.Name,
		&l.AccountID, &l.AccountCode, &l.AccountName, &l.AccountType, &l.JournalID, &l.JournalName,
		&l.PartnerID, &l.PartnerName, &l.CompanyID, &l.Date, &l.DateMaturity,
		&l.Debit, &l.Credit, &l.AmountResidual, &l.AmountResidualCurrency,
		&currency, &l.AmountCurrency, &l.Reconciled, &l.FullReconcileID)
	if err != nil {
		return LedgerLine{}, err
	}
	l.Currency = currency
	return l, nil
}

// GetAccount loads a chart of accounts node.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, company_id, is_active, created_at, updated_at
FROM accounts WHERE id = $1`, id).
		Scan(&acc.ID, &acc.Code, &acc.Name, &acc.Type, &acc.CompanyID, &acc.IsActive, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acc, nil
}

// GetLines loads ledger lines by id, in no particular order.
func (r *Repository) GetLines(ctx context.Context, ids []int64) ([]LedgerLine, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+LineColumns+` `+LineFrom+` WHERE l.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LedgerLine
	for rows.Next() {
		line, err := ScanLine(rows)
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

// GetMove loads a move with its lines.
func (r *Repository) GetMove(ctx context.Context, id int64) (Move, error) {
	var mv Move
	err := r.pool.QueryRow(ctx, `SELECT id, name, ref, journal_id, company_id, date, state, created_at, updated_at
FROM moves WHERE id = $1`, id).
		Scan(&mv.ID, &mv.Name, &mv.Ref, &mv.JournalID, &mv.CompanyID, &mv.Date, &mv.State, &mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrMoveNotFound
		}
		return Move{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+LineColumns+` `+LineFrom+` WHERE l.move_id = $1 ORDER BY l.id`, id)
	if err != nil {
		return Move{}, err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := ScanLine(rows)
		if err != nil {
			return Move{}, err
		}
		mv.Lines = append(mv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Move{}, err
	}
	return mv, nil
}

// TxRepository exposes transactional move operations.
type TxRepository interface {
	CreateMove(ctx context.Context, input MoveInput) (Move, error)
	PostMove(ctx context.Context, moveID int64) error
}

type txRepo struct {
	tx pgx.Tx
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

// CreateMove inserts a draft move with its lines. The move name is derived
// from the journal code and the assigned id.
func (tx *txRepo) CreateMove(ctx context.Context, input MoveInput) (Move, error) {
	return CreateMoveTx(ctx, tx.tx, input)
}

// PostMove transitions a draft move to posted and opens its residuals.
func (tx *txRepo) PostMove(ctx context.Context, moveID int64) error {
	return PostMoveTx(ctx, tx.tx, moveID)
}

// CreateMoveTx inserts a draft move with its lines inside an existing
// transaction.
func CreateMoveTx(ctx context.Context, tx pgx.Tx, input MoveInput) (Move, error) {
	if err := input.Validate(); err != nil {
		return Move{}, err
	}
	var mv Move
	err := tx.QueryRow(ctx, `INSERT INTO moves (name, ref, journal_id, company_id, date, state, created_at, updated_at)
SELECT '', $1, $2, $3, $4, $5, NOW(), NOW()
RETURNING id, ref, journal_id, company_id, date, state, created_at, updated_at`,
		input.Ref, input.JournalID, input.CompanyID, input.Date, MoveStateDraft).
		Scan(&mv.ID, &mv.Ref, &mv.JournalID, &mv.CompanyID, &mv.Date, &mv.State, &mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		return Move{}, err
	}
	err = tx.QueryRow(ctx, `UPDATE moves SET name = (SELECT code FROM journals WHERE id = $1) || '/' || to_char(date, 'YYYY') || '/' || lpad($2::text, 5, '0')
WHERE id = $3 RETURNING name`, input.JournalID, mv.ID, mv.ID).Scan(&mv.Name)
	if err != nil {
		return Move{}, err
	}
	for _, line := range input.Lines {
		var currency any
		if line.Currency != "" {
			currency = line.Currency
		}
		var inserted LedgerLine
		err := tx.QueryRow(ctx, `INSERT INTO move_lines
(move_id, name, account_id, journal_id, partner_id, company_id, date,
 debit, credit, amount_residual, amount_residual_currency, currency, amount_currency, reconciled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE)
RETURNING id`,
			mv.ID, line.Name, line.AccountID, input.JournalID, line.PartnerID, input.CompanyID, input.Date,
			line.Debit, line.Credit, line.Debit-line.Credit, line.AmountCurrency, currency, line.AmountCurrency).
			Scan(&inserted.ID)
		if err != nil {
			return Move{}, err
		}
		inserted.MoveID = mv.ID
		inserted.Name = line.Name
		inserted.AccountID = line.AccountID
		inserted.JournalID = input.JournalID
		inserted.PartnerID = line.PartnerID
		inserted.CompanyID = input.CompanyID
		inserted.Date = input.Date
		inserted.Debit = line.Debit
		inserted.Credit = line.Credit
		inserted.AmountResidual = line.Debit - line.Credit
		inserted.AmountResidualCurrency = line.AmountCurrency
		inserted.Currency = line.Currency
		inserted.AmountCurrency = line.AmountCurrency
		inserted.MoveState = MoveStateDraft
		mv.Lines = append(mv.Lines, inserted)
	}
	return mv, nil
}

// PostMoveTx transitions a draft move to posted inside an existing
// transaction.
func PostMoveTx(ctx context.Context, tx pgx.Tx, moveID int64) error {
	tag, err := tx.Exec(ctx, `UPDATE moves SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3`,
		MoveStatePosted, moveID, MoveStateDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var state MoveState
		if err := tx.QueryRow(ctx, `SELECT state FROM moves WHERE id = $1`, moveID).Scan(&state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrMoveNotFound
			}
			return err
		}
		return ErrAlreadyPosted
	}
	return nil
}

package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeReceivable AccountType = "asset_receivable"
	AccountTypePayable    AccountType = "liability_payable"
	AccountTypeCash       AccountType = "asset_cash"
	AccountTypeCreditCard AccountType = "liability_credit_card"
	AccountTypeCurrent    AccountType = "asset_current"
	AccountTypeIncome     AccountType = "income"
	AccountTypeExpense    AccountType = "expense"
)

// IsLiquidity reports whether the account type carries bank/cash residual
// semantics: the full original movement stays relevant even after the line
// joined a completed reconciliation.
func (t AccountType) IsLiquidity() bool {
	return t == AccountTypeCash || t == AccountTypeCreditCard
}

// MoveState enumerates journal entry lifecycle values.
type MoveState string

const (
	MoveStateDraft  MoveState = "draft"
	MoveStatePosted MoveState = "posted"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	CompanyID int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal groups moves by origin (bank, cash, sales, miscellaneous).
type Journal struct {
	ID        int64
	Code      string
	Name      string
	CompanyID int64
}

// Move is a journal entry: a balanced set of ledger lines posted together.
type Move struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Ref       string       `json:"ref,omitempty"`
	JournalID int64        `json:"journal_id"`
	CompanyID int64        `json:"company_id"`
	Date      time.Time    `json:"date"`
	State     MoveState    `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Lines     []LedgerLine `json:"lines"`
}

// LedgerLine is a single debit/credit entry within a move.
//
// AmountResidual and AmountResidualCurrency track the portion not yet offset
// by a reconciliation; both drop to zero once the line is fully reconciled.
// Currency is empty for company-currency lines; AmountCurrency is meaningful
// only when Currency is set.
type LedgerLine struct {
	ID                     int64       `json:"id"`
	MoveID                 int64       `json:"move_id"`
	MoveName               string      `json:"move_name"`
	MoveRef                string      `json:"move_ref,omitempty"`
	MoveState              MoveState   `json:"move_state"`
	Name                   string      `json:"name"`
	AccountID              int64       `json:"account_id"`
	AccountCode            string      `json:"account_code"`
	AccountName            string      `json:"account_name"`
	AccountType            AccountType `json:"account_type"`
	JournalID              int64       `json:"journal_id"`
	JournalName            string      `json:"journal_name"`
	PartnerID              *int64      `json:"partner_id,omitempty"`
	PartnerName            string      `json:"partner_name,omitempty"`
	CompanyID              int64       `json:"company_id"`
	Date                   time.Time   `json:"date"`
	DateMaturity           *time.Time  `json:"date_maturity,omitempty"`
	Debit                  float64     `json:"debit"`
	Credit                 float64     `json:"credit"`
	AmountResidual         float64     `json:"amount_residual"`
	AmountResidualCurrency float64     `json:"amount_residual_currency"`
	Currency               string      `json:"currency,omitempty"`
	AmountCurrency         float64     `json:"amount_currency"`
	Reconciled             bool        `json:"reconciled"`
	FullReconcileID        *int64      `json:"full_reconcile_id,omitempty"`
}

// Balance is the signed company-currency amount of the line.
func (l LedgerLine) Balance() float64 {
	return l.Debit - l.Credit
}

// MoveLineInput describes one line of a move to create.
type MoveLineInput struct {
	Name           string
	AccountID      int64
	PartnerID      *int64
	Debit          float64
	Credit         float64
	Currency       string
	AmountCurrency float64
}

// MoveInput groups the fields required to create a journal entry.
type MoveInput struct {
	Ref       string
	JournalID int64
	CompanyID int64
	Date      time.Time
	Lines     []MoveLineInput
}

var (
	// ErrUnbalanced indicates total debit != total credit.
	ErrUnbalanced = errors.New("ledger: move lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: move requires at least two lines")
	// ErrMoveNotFound indicates a missing move.
	ErrMoveNotFound = errors.New("ledger: move not found")
	// ErrLineNotFound indicates a missing ledger line.
	ErrLineNotFound = errors.New("ledger: ledger line not found")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAlreadyPosted indicates a move cannot be posted twice.
	ErrAlreadyPosted = errors.New("ledger: move already posted")
)

// Validate ensures the move input meets posting criteria.
func (in MoveInput) Validate() error {
	if in.JournalID == 0 {
		return errors.New("ledger: journal required")
	}
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: date required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if !AmountsEqual(debit, credit) {
		return ErrUnbalanced
	}
	return nil
}

// amountTolerance is half of the smallest representable cent step used when
// comparing company-currency amounts.
const amountTolerance = 0.005

// AmountsEqual compares two monetary amounts at cent precision.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < amountTolerance
}

// IsZeroAmount reports whether an amount rounds to zero at cent precision.
func IsZeroAmount(a float64) bool {
	return AmountsEqual(a, 0)
}

// Round rounds an amount to the given number of decimal places.
func Round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

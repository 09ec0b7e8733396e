package reconciliation

import (
	"errors"
	"time"

	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/shared"
)

var (
	// ErrTooFewLines blocks a commit involving less than two lines overall.
	ErrTooFewLines = shared.UserSafe(errors.New("A reconciliation must involve at least 2 move lines."))
	// ErrWriteOffFieldsMissing blocks a write-off spec without account/journal.
	ErrWriteOffFieldsMissing = shared.UserSafe(errors.New("It is mandatory to specify an account and a journal to create a write-off."))
	// ErrLineAlreadyReconciled indicates a concurrent commit won the race for
	// at least one of the requested lines.
	ErrLineAlreadyReconciled = shared.UserSafe(errors.New("One of the selected lines was already reconciled."))
	// ErrResidualMismatch indicates the selected set does not net to zero.
	ErrResidualMismatch = shared.UserSafe(errors.New("The selected amounts do not balance. Add a write-off to absorb the difference."))
)

// FormattedLine is the display-ready projection of a ledger line expressed in
// a target currency. Amount strings are locale-formatted absolute values;
// optional amounts render as empty strings when absent.
type FormattedLine struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Ref          string          `json:"ref,omitempty"`
	MoveName     string          `json:"move_name"`
	AccountID    int64           `json:"account_id"`
	AccountCode  string          `json:"account_code"`
	AccountName  string          `json:"account_name"`
	AccountType  ledger.AccountType `json:"account_type"`
	JournalID    int64           `json:"journal_id"`
	JournalName  string          `json:"journal_name"`
	PartnerID    *int64          `json:"partner_id,omitempty"`
	PartnerName  string          `json:"partner_name,omitempty"`
	Date         time.Time       `json:"date"`
	DateMaturity *time.Time      `json:"date_maturity,omitempty"`
	Reconciled   bool            `json:"reconciled"`

	// Currency is the target display currency of Balance and TotalAmount.
	Currency string `json:"currency"`
	// LineCurrency is the line's own currency when it differs from the
	// target; empty otherwise.
	LineCurrency string `json:"line_currency,omitempty"`

	Balance             float64  `json:"balance"`
	AmountCurrency      *float64 `json:"amount_currency,omitempty"`
	TotalAmount         float64  `json:"total_amount"`
	TotalAmountCurrency *float64 `json:"total_amount_currency,omitempty"`

	AmountStr              string `json:"amount_str"`
	AmountCurrencyStr      string `json:"amount_currency_str"`
	TotalAmountStr         string `json:"total_amount_str"`
	TotalAmountCurrencyStr string `json:"total_amount_currency_str"`
}

// WriteOffSpec describes a new ledger line to create so a residual difference
// can be absorbed. AccountID and JournalID are mandatory; the amount fields
// are optional and default to the open residual of the lines being
// reconciled.
type WriteOffSpec struct {
	AccountID      int64
	JournalID      int64
	Date           time.Time
	Name           string
	Ref            string
	PartnerID      *int64
	Balance        *float64
	Debit          *float64
	Credit         *float64
	AmountCurrency *float64
}

// Validate enforces the mandatory write-off fields.
func (s WriteOffSpec) Validate() error {
	if s.AccountID == 0 || s.JournalID == 0 {
		return ErrWriteOffFieldsMissing
	}
	return nil
}

// CommitInput groups the arguments of a manual reconciliation commit.
type CommitInput struct {
	LineIDs   []int64
	WriteOffs []WriteOffSpec
	ActorID   int64
}

// LoadCandidatesInput selects unreconciled lines for manual reconciliation.
type LoadCandidatesInput struct {
	AccountID      int64
	PartnerID      *int64
	ExcludedIDs    []int64
	Search         string
	Offset         int
	Limit          int
	TargetCurrency string
}

// CandidatePage is the paged result of a candidate query.
type CandidatePage struct {
	Lines      []FormattedLine `json:"lines"`
	TotalCount int             `json:"total_count"`
}

// PropositionQuery scopes the search for an opposite-residual pair.
//
// When PinnedLineID is set, that line must be one side of the pair and the
// other side must sit on the same account.
type PropositionQuery struct {
	AccountID    int64
	PartnerID    *int64
	PinnedLineID *int64
}

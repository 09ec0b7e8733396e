package reconciliation

import (
	"strconv"
	"strings"
	"time"

	"github.com/meridian-books/meridian-books/internal/ledger"
)

// Field names a ledger line attribute a filter condition can target.
type Field string

const (
	FieldID                     Field = "id"
	FieldAccountID              Field = "account_id"
	FieldAccountCode            Field = "account_code"
	FieldAccountType            Field = "account_type"
	FieldPartnerID              Field = "partner_id"
	FieldPartnerName            Field = "partner_name"
	FieldCompanyID              Field = "company_id"
	FieldMoveName               Field = "move_name"
	FieldMoveRef                Field = "move_ref"
	FieldMoveState              Field = "move_state"
	FieldLineName               Field = "line_name"
	FieldDateMaturity           Field = "date_maturity"
	FieldDebit                  Field = "debit"
	FieldCredit                 Field = "credit"
	FieldAmountResidual         Field = "amount_residual"
	FieldAmountResidualCurrency Field = "amount_residual_currency"
	FieldAmountCurrency         Field = "amount_currency"
	FieldReconciled             Field = "reconciled"
)

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpContains Op = "contains" // case-insensitive substring
	OpIn       Op = "in"
	OpNotIn    Op = "not in"
)

// Expr is a structured filter over ledger lines. The repository translates
// it into parameterized SQL; this package never assembles query text.
type Expr interface {
	isExpr()
}

// Cond is a single field comparison.
type Cond struct {
	Field Field
	Op    Op
	Value any
}

// And matches when every child matches. An empty And matches everything.
type And []Expr

// Or matches when at least one child matches.
type Or []Expr

func (Cond) isExpr() {}
func (And) isExpr()  {}
func (Or) isExpr()   {}

// liquidityTypes is the account-type subset with bank/cash residual
// semantics.
var liquidityTypes = []string{
	string(ledger.AccountTypeCash),
	string(ledger.AccountTypeCreditCard),
}

// searchDateLayout is the layout accepted for maturity-date searches.
const searchDateLayout = "2006-01-02"

// BuildSearchFilter turns a free-text search string into a filter over
// ledger lines: text matches against account code, move name/ref, line name,
// and partner name, a maturity-date match when the string parses as a date,
// and amount matches when it parses as a number. A string that fails numeric
// parsing silently degrades to the text and partner clauses.
//
// An empty or whitespace-only string yields nil, meaning match everything.
func BuildSearchFilter(searchStr string) Expr {
	searchStr = strings.TrimSpace(searchStr)
	if searchStr == "" {
		return nil
	}

	clauses := Or{
		Cond{Field: FieldAccountCode, Op: OpContains, Value: searchStr},
		Cond{Field: FieldMoveName, Op: OpContains, Value: searchStr},
		Cond{Field: FieldMoveRef, Op: OpContains, Value: searchStr},
		And{
			Cond{Field: FieldLineName, Op: OpNe, Value: "/"},
			Cond{Field: FieldLineName, Op: OpContains, Value: searchStr},
		},
	}
	if date, err := time.Parse(searchDateLayout, searchStr); err == nil {
		clauses = append(clauses, Cond{Field: FieldDateMaturity, Op: OpEq, Value: date})
	}
	if numeric, ok := parseAmountFilter(searchStr); ok {
		clauses = append(clauses, numeric)
	}
	clauses = append(clauses, Cond{Field: FieldPartnerName, Op: OpContains, Value: searchStr})
	return clauses
}

// parseAmountFilter builds the numeric branch of the search filter. It
// reports false when the string is not a number, which the caller treats as
// "skip the numeric clause" rather than an error.
//
// Two syntaxes are accepted: a single float with optional sign, or a
// |-separated list of floats where every segment carries an explicit sign.
// Signed segments constrain the matched side (credit for -, debit for +);
// an unsigned amount matches either sign.
func parseAmountFilter(searchStr string) (Expr, bool) {
	if strings.Contains(searchStr, "|") {
		segments := strings.Split(searchStr, "|")
		var out Or
		for _, seg := range segments {
			expr, ok := parseSignedSegment(strings.TrimSpace(seg))
			if !ok {
				return nil, false
			}
			out = append(out, expr)
		}
		return out, true
	}
	if strings.HasPrefix(searchStr, "+") || strings.HasPrefix(searchStr, "-") {
		return parseSignedSegment(searchStr)
	}
	amount, err := strconv.ParseFloat(searchStr, 64)
	if err != nil {
		return nil, false
	}
	return Or{
		Cond{Field: FieldAmountResidual, Op: OpEq, Value: amount},
		Cond{Field: FieldAmountResidualCurrency, Op: OpEq, Value: amount},
		Cond{Field: FieldAmountResidual, Op: OpEq, Value: -amount},
		Cond{Field: FieldAmountResidualCurrency, Op: OpEq, Value: -amount},
		And{
			Cond{Field: FieldAccountType, Op: OpIn, Value: liquidityTypes},
			Or{
				Cond{Field: FieldDebit, Op: OpEq, Value: amount},
				Cond{Field: FieldCredit, Op: OpEq, Value: amount},
				Cond{Field: FieldAmountCurrency, Op: OpEq, Value: amount},
				Cond{Field: FieldAmountCurrency, Op: OpEq, Value: -amount},
			},
		},
	}, true
}

func parseSignedSegment(segment string) (Expr, bool) {
	if !strings.HasPrefix(segment, "+") && !strings.HasPrefix(segment, "-") {
		return nil, false
	}
	value, err := strconv.ParseFloat(segment, 64)
	if err != nil {
		return nil, false
	}
	amount := value
	sideField := FieldDebit
	if amount < 0 {
		amount = -amount
		sideField = FieldCredit
	}
	return Or{
		Cond{Field: FieldAmountResidual, Op: OpEq, Value: amount},
		Cond{Field: FieldAmountResidualCurrency, Op: OpEq, Value: amount},
		Cond{Field: sideField, Op: OpEq, Value: amount},
		Cond{Field: FieldAmountCurrency, Op: OpEq, Value: amount},
	}, true
}

// CandidateFilter builds the filter used to fetch unreconciled lines for
// manual reconciliation on the given account. The company constraint comes
// from the account itself so multi-company setups never leak lines across
// companies, whatever company the caller runs under.
func CandidateFilter(account ledger.Account, partnerID *int64, excludedIDs []int64, searchStr string) Expr {
	filter := And{
		Cond{Field: FieldReconciled, Op: OpEq, Value: false},
		Cond{Field: FieldAccountID, Op: OpEq, Value: account.ID},
		Cond{Field: FieldMoveState, Op: OpEq, Value: string(ledger.MoveStatePosted)},
		Cond{Field: FieldCompanyID, Op: OpEq, Value: account.CompanyID},
	}
	if partnerID != nil {
		filter = append(filter, Cond{Field: FieldPartnerID, Op: OpEq, Value: *partnerID})
	}
	if len(excludedIDs) > 0 {
		filter = append(filter, Cond{Field: FieldID, Op: OpNotIn, Value: excludedIDs})
	}
	if search := BuildSearchFilter(searchStr); search != nil {
		filter = append(filter, search)
	}
	return filter
}

package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian-books/internal/ledger"
)

func TestTranslateNilAndEmptyGroups(t *testing.T) {
	cases := []struct {
		name string
		expr Expr
		want string
	}{
		{"nil matches everything", nil, "TRUE"},
		{"empty and matches everything", And{}, "TRUE"},
		{"empty or matches nothing", Or{}, "FALSE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			builder := &sqlBuilder{}
			sql, err := builder.translate(tc.expr)
			require.NoError(t, err)
			require.Equal(t, tc.want, sql)
			require.Empty(t, builder.args)
		})
	}
}

func TestTranslateCandidateFilter(t *testing.T) {
	account := ledger.Account{ID: 7, CompanyID: 3}

	builder := &sqlBuilder{}
	sql, err := builder.translate(CandidateFilter(account, nil, nil, ""))
	require.NoError(t, err)

	require.Equal(t,
		"(l.reconciled = $1 AND l.account_id = $2 AND m.state = $3 AND l.company_id = $4)",
		sql)
	require.Equal(t, []any{false, int64(7), "posted", int64(3)}, builder.args)
}

func TestTranslateCandidateFilterWithPartnerExclusionsAndSearch(t *testing.T) {
	account := ledger.Account{ID: 7, CompanyID: 3}
	partnerID := int64(9)

	builder := &sqlBuilder{}
	sql, err := builder.translate(CandidateFilter(account, &partnerID, []int64{4, 5}, "INV"))
	require.NoError(t, err)

	require.Equal(t,
		"(l.reconciled = $1 AND l.account_id = $2 AND m.state = $3 AND l.company_id = $4"+
			" AND l.partner_id = $5 AND NOT (l.id = ANY($6))"+
			" AND (a.code ILIKE '%' || $7 || '%'"+
			" OR m.name ILIKE '%' || $8 || '%'"+
			" OR m.ref ILIKE '%' || $9 || '%'"+
			" OR (l.name <> $10 AND l.name ILIKE '%' || $11 || '%')"+
			" OR p.name ILIKE '%' || $12 || '%'))",
		sql)
	require.Equal(t, []any{
		false, int64(7), "posted", int64(3),
		int64(9), []int64{4, 5},
		"INV", "INV", "INV", "/", "INV", "INV",
	}, builder.args)
}

func TestTranslateNumericSearchFilter(t *testing.T) {
	builder := &sqlBuilder{}
	sql, err := builder.translate(BuildSearchFilter("-520.50"))
	require.NoError(t, err)

	// The signed amount constrains the credit side and never the debit side.
	require.Contains(t, sql, "l.amount_residual = $")
	require.Contains(t, sql, "l.credit = $")
	require.NotContains(t, sql, "l.debit")
	require.Contains(t, builder.args, 520.50)
	require.NotContains(t, builder.args, -520.50)
}

func TestTranslateEscapesLikeWildcards(t *testing.T) {
	builder := &sqlBuilder{}
	sql, err := builder.translate(Cond{Field: FieldMoveName, Op: OpContains, Value: `50%_off\`})
	require.NoError(t, err)

	require.Equal(t, "m.name ILIKE '%' || $1 || '%'", sql)
	require.Equal(t, []any{`50\%\_off\\`}, builder.args)
}

func TestTranslateRejectsUnknownFieldAndOperator(t *testing.T) {
	builder := &sqlBuilder{}
	_, err := builder.translate(Cond{Field: "bogus", Op: OpEq, Value: 1})
	require.ErrorContains(t, err, "unknown filter field")

	_, err = builder.translate(Cond{Field: FieldID, Op: "between", Value: 1})
	require.ErrorContains(t, err, "unknown filter operator")
}

func TestPropositionPairSQLBaseConditions(t *testing.T) {
	query, args := propositionPairSQL(PropositionQuery{AccountID: 7})

	require.Equal(t, []any{int64(7)}, args)
	require.Contains(t, query, "a.account_id = $1")
	require.Contains(t, query, "b.account_id = $1")
	require.Contains(t, query, "ma.state = 'posted'")
	require.Contains(t, query, "mb.state = 'posted'")
	require.Contains(t, query, "NOT a.reconciled")
	require.Contains(t, query, "NOT b.reconciled")
	require.Contains(t, query, "a.amount_residual = -b.amount_residual")
	require.Contains(t, query, "a.amount_residual <> 0")
	require.Contains(t, query, "a.id <> b.id")
	require.Contains(t, query, "ORDER BY a.date DESC\nLIMIT 1")
	require.NotContains(t, query, "partner_id")
	require.NotContains(t, query, "a.id = $")
}

func TestPropositionPairSQLPartnerConstrainsBothSides(t *testing.T) {
	partnerID := int64(9)
	query, args := propositionPairSQL(PropositionQuery{AccountID: 7, PartnerID: &partnerID})

	require.Equal(t, []any{int64(7), int64(9)}, args)
	require.Contains(t, query, "a.partner_id = $2")
	require.Contains(t, query, "b.partner_id = $2")
}

func TestPropositionPairSQLPinnedLine(t *testing.T) {
	pinned := int64(4)
	query, args := propositionPairSQL(PropositionQuery{AccountID: 7, PinnedLineID: &pinned})

	require.Equal(t, []any{int64(7), int64(4)}, args)
	require.Contains(t, query, "a.id = $2")

	partnerID := int64(9)
	query, args = propositionPairSQL(PropositionQuery{
		AccountID:    7,
		PartnerID:    &partnerID,
		PinnedLineID: &pinned,
	})
	require.Equal(t, []any{int64(7), int64(9), int64(4)}, args)
	require.Contains(t, query, "a.id = $3")
}

package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/shared"
)

type memoryReconRepo struct {
	accounts map[int64]ledger.Account
	lines    map[int64]*ledger.LedgerLine
	pair     []int64

	nextLineID int64
	nextMoveID int64

	searched Expr
	counted  Expr
}

func newMemoryReconRepo() *memoryReconRepo {
	return &memoryReconRepo{
		accounts:   map[int64]ledger.Account{},
		lines:      map[int64]*ledger.LedgerLine{},
		nextLineID: 1000,
		nextMoveID: 100,
	}
}

func (m *memoryReconRepo) addLine(line ledger.LedgerLine) {
	copied := line
	m.lines[line.ID] = &copied
}

func (m *memoryReconRepo) GetAccount(_ context.Context, id int64) (ledger.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (m *memoryReconRepo) SearchLines(_ context.Context, filter Expr, offset, limit int) ([]ledger.LedgerLine, error) {
	m.searched = filter
	var out []ledger.LedgerLine
	for _, line := range m.lines {
		if !line.Reconciled {
			out = append(out, *line)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryReconRepo) CountLines(_ context.Context, filter Expr) (int, error) {
	m.counted = filter
	count := 0
	for _, line := range m.lines {
		if !line.Reconciled {
			count++
		}
	}
	return count, nil
}

func (m *memoryReconRepo) FindPropositionPair(_ context.Context, _ PropositionQuery) ([]ledger.LedgerLine, error) {
	var out []ledger.LedgerLine
	for _, id := range m.pair {
		out = append(out, *m.lines[id])
	}
	return out, nil
}

func (m *memoryReconRepo) GetLines(_ context.Context, ids []int64) ([]ledger.LedgerLine, error) {
	var out []ledger.LedgerLine
	for _, id := range ids {
		if line, ok := m.lines[id]; ok {
			out = append(out, *line)
		}
	}
	return out, nil
}

func (m *memoryReconRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryReconTx{repo: m})
}

type memoryReconTx struct {
	repo *memoryReconRepo
}

func (t *memoryReconTx) GetLinesForUpdate(ctx context.Context, ids []int64) ([]ledger.LedgerLine, error) {
	return t.repo.GetLines(ctx, ids)
}

func (t *memoryReconTx) CreateMove(_ context.Context, input ledger.MoveInput) (ledger.Move, error) {
	if err := input.Validate(); err != nil {
		return ledger.Move{}, err
	}
	t.repo.nextMoveID++
	move := ledger.Move{
		ID:        t.repo.nextMoveID,
		Ref:       input.Ref,
		JournalID: input.JournalID,
		CompanyID: input.CompanyID,
		Date:      input.Date,
		State:     ledger.MoveStateDraft,
	}
	for _, in := range input.Lines {
		t.repo.nextLineID++
		line := ledger.LedgerLine{
			ID:                     t.repo.nextLineID,
			MoveID:                 move.ID,
			Name:                   in.Name,
			AccountID:              in.AccountID,
			PartnerID:              in.PartnerID,
			JournalID:              input.JournalID,
			CompanyID:              input.CompanyID,
			Date:                   input.Date,
			Debit:                  in.Debit,
			Credit:                 in.Credit,
			Currency:               in.Currency,
			AmountCurrency:         in.AmountCurrency,
			AmountResidual:         in.Debit - in.Credit,
			AmountResidualCurrency: in.AmountCurrency,
		}
		if in.Currency == "" {
			line.AmountResidualCurrency = 0
		}
		t.repo.addLine(line)
		move.Lines = append(move.Lines, line)
	}
	return move, nil
}

func (t *memoryReconTx) PostMove(_ context.Context, _ int64) error {
	return nil
}

func (t *memoryReconTx) MarkReconciled(_ context.Context, lineIDs []int64) (int64, error) {
	for _, id := range lineIDs {
		line, ok := t.repo.lines[id]
		if !ok {
			return 0, ledger.ErrLineNotFound
		}
		if line.Reconciled {
			return 0, ErrLineAlreadyReconciled
		}
	}
	for _, id := range lineIDs {
		line := t.repo.lines[id]
		line.Reconciled = true
		line.AmountResidual = 0
		line.AmountResidualCurrency = 0
	}
	return 1, nil
}

type stubCompanies struct{ currency string }

func (s stubCompanies) CurrencyCode(context.Context, int64) (string, error) {
	return s.currency, nil
}

type recordingAudit struct {
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, entry shared.AuditLog) error {
	a.entries = append(a.entries, entry)
	return nil
}

func newTestService(repo *memoryReconRepo) (*Service, *recordingAudit) {
	audit := &recordingAudit{}
	formatter := NewFormatter(&stubConverter{}, "en")
	svc := NewService(repo, stubCompanies{currency: "USD"}, formatter, audit, nil)
	svc.WithNow(func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return svc, audit
}

func receivableLine(id int64, residual float64) ledger.LedgerLine {
	line := ledger.LedgerLine{
		ID:             id,
		MoveID:         id,
		MoveName:       "INV/2024/0000" + string(rune('0'+id)),
		MoveState:      ledger.MoveStatePosted,
		Name:           "Invoice",
		AccountID:      7,
		AccountCode:    "1200",
		AccountType:    ledger.AccountTypeReceivable,
		JournalID:      2,
		CompanyID:      3,
		Date:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		AmountResidual: residual,
	}
	if residual >= 0 {
		line.Debit = residual
	} else {
		line.Credit = -residual
	}
	return line
}

func TestCommitReconciliationBalancedPair(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, audit := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2},
		ActorID: 42,
	})
	require.NoError(t, err)

	require.True(t, repo.lines[1].Reconciled)
	require.True(t, repo.lines[2].Reconciled)
	require.Zero(t, repo.lines[1].AmountResidual)
	require.Zero(t, repo.lines[2].AmountResidual)

	require.Len(t, audit.entries, 1)
	require.Equal(t, int64(42), audit.entries[0].ActorID)
	require.Equal(t, "reconciliation.commit", audit.entries[0].Action)
}

func TestCommitReconciliationIgnoresDuplicateLineIDs(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2, 1},
	})
	require.NoError(t, err)
	require.True(t, repo.lines[1].Reconciled)
	require.True(t, repo.lines[2].Reconciled)
}

func TestCommitReconciliationResidualMismatch(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -80))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{LineIDs: []int64{1, 2}})
	require.ErrorIs(t, err, ErrResidualMismatch)
	require.False(t, repo.lines[1].Reconciled)
	require.False(t, repo.lines[2].Reconciled)
}

func TestCommitReconciliationWithWriteOff(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -80))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2},
		WriteOffs: []WriteOffSpec{{
			AccountID: 99, // expense account absorbing the difference
			JournalID: 5,
			Name:      "Bad debt",
		}},
	})
	require.NoError(t, err)

	require.True(t, repo.lines[1].Reconciled)
	require.True(t, repo.lines[2].Reconciled)

	// One move with the spec line on the write-off account and the balancing
	// counter-line on the reconciled account.
	var specLine, counterLine *ledger.LedgerLine
	for _, line := range repo.lines {
		switch {
		case line.AccountID == 99:
			specLine = line
		case line.AccountID == 7 && line.ID > 1000:
			counterLine = line
		}
	}
	require.NotNil(t, specLine)
	require.NotNil(t, counterLine)
	require.Equal(t, "Bad debt", specLine.Name)
	require.Equal(t, 20.0, specLine.Debit)
	require.Equal(t, "Write-Off", counterLine.Name)
	require.Equal(t, 20.0, counterLine.Credit)
	require.True(t, counterLine.Reconciled)
	require.False(t, specLine.Reconciled)
}

func TestCommitReconciliationExplicitWriteOffBalance(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -80))
	svc, _ := newTestService(repo)

	balance := -20.0
	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2},
		WriteOffs: []WriteOffSpec{{
			AccountID: 99,
			JournalID: 5,
			Balance:   &balance,
		}},
	})
	require.NoError(t, err)
	require.True(t, repo.lines[1].Reconciled)
}

func TestCommitReconciliationGroupsWriteOffsByJournalAndDate(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -70))
	svc, _ := newTestService(repo)

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	first := -10.0
	second := -20.0
	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2},
		WriteOffs: []WriteOffSpec{
			{AccountID: 99, JournalID: 5, Date: day, Balance: &first},
			{AccountID: 98, JournalID: 5, Date: day, Balance: &second},
		},
	})
	require.NoError(t, err)

	// Both specs share (journal, date): a single move should carry all four
	// write-off lines.
	moveIDs := map[int64]struct{}{}
	for _, line := range repo.lines {
		if line.ID > 1000 {
			moveIDs[line.MoveID] = struct{}{}
		}
	}
	require.Len(t, moveIDs, 1)
}

func TestCommitReconciliationTooFewLines(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{LineIDs: []int64{1}})
	require.ErrorIs(t, err, ErrTooFewLines)

	err = svc.CommitReconciliation(context.Background(), CommitInput{})
	require.ErrorIs(t, err, ErrTooFewLines)
}

func TestCommitReconciliationSingleLineWithWriteOff(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	svc, _ := newTestService(repo)

	// One existing line plus one write-off reaches the two-line minimum.
	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs:   []int64{1},
		WriteOffs: []WriteOffSpec{{AccountID: 99, JournalID: 5}},
	})
	require.NoError(t, err)
	require.True(t, repo.lines[1].Reconciled)
}

func TestCommitReconciliationMissingWriteOffFields(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs:   []int64{1, 2},
		WriteOffs: []WriteOffSpec{{JournalID: 5}},
	})
	require.ErrorIs(t, err, ErrWriteOffFieldsMissing)
	require.EqualError(t, err, "It is mandatory to specify an account and a journal to create a write-off.")
	require.False(t, repo.lines[1].Reconciled)
}

func TestCommitReconciliationAlreadyReconciled(t *testing.T) {
	repo := newMemoryReconRepo()
	line := receivableLine(1, 100)
	line.Reconciled = true
	repo.addLine(line)
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{LineIDs: []int64{1, 2}})
	require.ErrorIs(t, err, ErrLineAlreadyReconciled)
	require.False(t, repo.lines[2].Reconciled)
}

func TestCommitReconciliationUnknownLine(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	svc, _ := newTestService(repo)

	err := svc.CommitReconciliation(context.Background(), CommitInput{LineIDs: []int64{1, 999}})
	require.ErrorIs(t, err, ledger.ErrLineNotFound)
}

func TestLoadCandidates(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.accounts[7] = ledger.Account{ID: 7, CompanyID: 3, Type: ledger.AccountTypeReceivable}
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	svc, _ := newTestService(repo)

	page, err := svc.LoadCandidates(context.Background(), LoadCandidatesInput{
		AccountID: 7,
		Search:    "acme",
	})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Lines, 2)
	require.Equal(t, "USD", page.Lines[0].Currency)

	// The repository received a filter pinned to the account's company.
	clauses, ok := repo.searched.(And)
	require.True(t, ok)
	require.Contains(t, clauses, Expr(Cond{Field: FieldCompanyID, Op: OpEq, Value: int64(3)}))
}

func TestLoadCandidatesUnknownAccount(t *testing.T) {
	repo := newMemoryReconRepo()
	svc, _ := newTestService(repo)

	_, err := svc.LoadCandidates(context.Background(), LoadCandidatesInput{AccountID: 404})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestFindProposition(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.accounts[7] = ledger.Account{ID: 7, CompanyID: 3}
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -100))
	repo.pair = []int64{1, 2}
	svc, _ := newTestService(repo)

	lines, err := svc.FindProposition(context.Background(), PropositionQuery{AccountID: 7}, "")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, int64(1), lines[0].ID)
	require.Equal(t, int64(2), lines[1].ID)
}

func TestFindPropositionEmpty(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.accounts[7] = ledger.Account{ID: 7, CompanyID: 3}
	svc, _ := newTestService(repo)

	lines, err := svc.FindProposition(context.Background(), PropositionQuery{AccountID: 7}, "")
	require.NoError(t, err)
	require.Empty(t, lines)
}

type recordingMetrics struct {
	commits   []string
	writeOffs []int
}

func (m *recordingMetrics) ObserveReconCommit(outcome string) {
	m.commits = append(m.commits, outcome)
}

func (m *recordingMetrics) ObserveWriteOffMoves(n int) {
	m.writeOffs = append(m.writeOffs, n)
}

func TestCommitReconciliationReportsMetrics(t *testing.T) {
	repo := newMemoryReconRepo()
	repo.addLine(receivableLine(1, 100))
	repo.addLine(receivableLine(2, -80))
	svc, _ := newTestService(repo)
	metrics := &recordingMetrics{}
	svc.WithMetrics(metrics)

	err := svc.CommitReconciliation(context.Background(), CommitInput{LineIDs: []int64{1, 2}})
	require.ErrorIs(t, err, ErrResidualMismatch)

	err = svc.CommitReconciliation(context.Background(), CommitInput{
		LineIDs: []int64{1, 2},
		WriteOffs: []WriteOffSpec{{
			AccountID: 99,
			JournalID: 5,
			Name:      "Bad debt",
		}},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"rejected", "ok"}, metrics.commits)
	require.Equal(t, []int{1}, metrics.writeOffs)
}

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/shared"
)

// RepositoryPort defines read access for reconciliation queries.
type RepositoryPort interface {
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
	SearchLines(ctx context.Context, filter Expr, offset, limit int) ([]ledger.LedgerLine, error)
	CountLines(ctx context.Context, filter Expr) (int, error)
	// FindPropositionPair returns zero or exactly two lines.
	FindPropositionPair(ctx context.Context, q PropositionQuery) ([]ledger.LedgerLine, error)
	GetLines(ctx context.Context, ids []int64) ([]ledger.LedgerLine, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the transactional operations of a commit.
type TxRepository interface {
	GetLinesForUpdate(ctx context.Context, ids []int64) ([]ledger.LedgerLine, error)
	CreateMove(ctx context.Context, input ledger.MoveInput) (ledger.Move, error)
	PostMove(ctx context.Context, moveID int64) error
	// MarkReconciled links the lines under a new full reconciliation. It
	// must fail with ErrLineAlreadyReconciled when any line was reconciled
	// by a concurrent commit.
	MarkReconciled(ctx context.Context, lineIDs []int64) (int64, error)
}

// CompanyPort resolves company-level settings.
type CompanyPort interface {
	CurrencyCode(ctx context.Context, companyID int64) (string, error)
}

// AuditPort records reconciliation events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts commit outcomes and write-off activity.
type MetricsPort interface {
	ObserveReconCommit(outcome string)
	ObserveWriteOffMoves(n int)
}

// Service exposes the manual reconciliation operations: candidate loading,
// proposition matching, and the atomic commit.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	formatter *Formatter
	audit     AuditPort
	logger    *slog.Logger
	metrics   MetricsPort
	pageSize  int
	now       func() time.Time
}

// NewService constructs the reconciliation service.
func NewService(repo RepositoryPort, companies CompanyPort, formatter *Formatter, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		companies: companies,
		formatter: formatter,
		audit:     audit,
		logger:    logger,
		pageSize:  defaultCandidateLimit,
		now:       time.Now,
	}
}

// WithPageSize overrides the default candidate page size.
func (s *Service) WithPageSize(n int) {
	if s != nil && n > 0 {
		s.pageSize = n
	}
}

// WithMetrics attaches a commit metrics sink. A nil service or sink is a
// no-op.
func (s *Service) WithMetrics(m MetricsPort) {
	if s != nil {
		s.metrics = m
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

const defaultCandidateLimit = 50

// LoadCandidates fetches unreconciled lines on an account matching the
// optional partner/search constraints, formatted for display.
func (s *Service) LoadCandidates(ctx context.Context, input LoadCandidatesInput) (CandidatePage, error) {
	account, err := s.repo.GetAccount(ctx, input.AccountID)
	if err != nil {
		return CandidatePage{}, err
	}
	filter := CandidateFilter(account, input.PartnerID, input.ExcludedIDs, input.Search)
	total, err := s.repo.CountLines(ctx, filter)
	if err != nil {
		return CandidatePage{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	lines, err := s.repo.SearchLines(ctx, filter, input.Offset, limit)
	if err != nil {
		return CandidatePage{}, err
	}
	formatted, err := s.formatLines(ctx, lines, account.CompanyID, input.TargetCurrency)
	if err != nil {
		return CandidatePage{}, err
	}
	return CandidatePage{Lines: formatted, TotalCount: total}, nil
}

// FindProposition returns the best pair of open, opposite-residual lines on
// the account, formatted for display, or an empty slice when no pair exists.
func (s *Service) FindProposition(ctx context.Context, q PropositionQuery, targetCurrency string) ([]FormattedLine, error) {
	account, err := s.repo.GetAccount(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	pair, err := s.repo.FindPropositionPair(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(pair) == 0 {
		return []FormattedLine{}, nil
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("reconciliation: proposition returned %d lines", len(pair))
	}
	return s.formatLines(ctx, pair, account.CompanyID, targetCurrency)
}

func (s *Service) formatLines(ctx context.Context, lines []ledger.LedgerLine, companyID int64, targetCurrency string) ([]FormattedLine, error) {
	companyCurrency, err := s.companies.CurrencyCode(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.formatter.FormatLines(ctx, lines, FormatContext{
		CompanyID:       companyID,
		CompanyCurrency: companyCurrency,
		TargetCurrency:  targetCurrency,
	})
}

// CommitReconciliation creates any requested write-off moves, posts them,
// and marks the full line set as reconciled, atomically. Nothing is written
// when validation fails; a concurrent commit on any of the lines surfaces as
// ErrLineAlreadyReconciled.
func (s *Service) CommitReconciliation(ctx context.Context, input CommitInput) error {
	err := s.commitReconciliation(ctx, input)
	if s.metrics != nil {
		s.metrics.ObserveReconCommit(commitOutcome(err))
	}
	return err
}

func commitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLineAlreadyReconciled):
		return "conflict"
	case errors.Is(err, ErrTooFewLines),
		errors.Is(err, ErrWriteOffFieldsMissing),
		errors.Is(err, ErrResidualMismatch):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) commitReconciliation(ctx context.Context, input CommitInput) error {
	lineIDs := dedupeIDs(input.LineIDs)
	if len(lineIDs) < 1 || len(lineIDs)+len(input.WriteOffs) < 2 {
		return ErrTooFewLines
	}
	for _, spec := range input.WriteOffs {
		if err := spec.Validate(); err != nil {
			return err
		}
	}

	var reconciledIDs []int64
	var moveIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := tx.GetLinesForUpdate(ctx, lineIDs)
		if err != nil {
			return err
		}
		if len(lines) != len(lineIDs) {
			return ledger.ErrLineNotFound
		}
		for _, line := range lines {
			if line.Reconciled {
				return ErrLineAlreadyReconciled
			}
		}
		first := lines[0]
		companyCurrency, err := s.companies.CurrencyCode(ctx, first.CompanyID)
		if err != nil {
			return err
		}

		allIDs := append([]int64(nil), lineIDs...)
		residual := sumResidual(lines)
		if len(input.WriteOffs) > 0 {
			newLines, err := s.createWriteOffMoves(ctx, tx, lines, input.WriteOffs, companyCurrency, &moveIDs)
			if err != nil {
				return err
			}
			for _, line := range newLines {
				allIDs = append(allIDs, line.ID)
				residual += line.AmountResidual
			}
		}
		if !ledger.IsZeroAmount(residual) {
			return ErrResidualMismatch
		}
		fullReconcileID, err := tx.MarkReconciled(ctx, allIDs)
		if err != nil {
			return err
		}
		reconciledIDs = allIDs
		if s.logger != nil {
			s.logger.Info("reconciliation committed",
				slog.Int64("full_reconcile_id", fullReconcileID),
				slog.Int("line_count", len(allIDs)),
				slog.Int("write_off_moves", len(moveIDs)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.metrics != nil && len(moveIDs) > 0 {
		s.metrics.ObserveWriteOffMoves(len(moveIDs))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "reconciliation.commit",
			Entity:   "move_line",
			EntityID: fmt.Sprintf("%v", reconciledIDs),
			Meta: map[string]any{
				"line_ids":        reconciledIDs,
				"write_off_moves": moveIDs,
			},
			At: s.now(),
		})
	}
	return nil
}

// writeOffGroup partitions specs by their move-level fields.
type writeOffGroup struct {
	journalID int64
	date      time.Time
	specs     []WriteOffSpec
}

// createWriteOffMoves groups the specs by (journal, date), creates and posts
// one move per group, and returns the newly created lines that land on the
// reconciled account and are still open.
func (s *Service) createWriteOffMoves(ctx context.Context, tx TxRepository, existing []ledger.LedgerLine, specs []WriteOffSpec, companyCurrency string, moveIDs *[]int64) ([]ledger.LedgerLine, error) {
	first := existing[0]
	currency := commonCurrency(existing, companyCurrency)

	var groups []writeOffGroup
	for _, spec := range specs {
		date := spec.Date
		if date.IsZero() {
			date = s.now()
		}
		date = date.Truncate(24 * time.Hour)
		placed := false
		for i := range groups {
			if groups[i].journalID == spec.JournalID && groups[i].date.Equal(date) {
				groups[i].specs = append(groups[i].specs, spec)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, writeOffGroup{journalID: spec.JournalID, date: date, specs: []WriteOffSpec{spec}})
		}
	}

	var created []ledger.LedgerLine
	for _, group := range groups {
		moveInput := ledger.MoveInput{
			Ref:       "Write-Off",
			JournalID: group.journalID,
			CompanyID: first.CompanyID,
			Date:      group.date,
		}
		for _, spec := range group.specs {
			balance, amountCurrency := deriveWriteOffAmounts(spec, existing, currency, companyCurrency)
			name := spec.Name
			if name == "" {
				name = "Write-Off"
			}
			lineCurrency := ""
			if currency != companyCurrency {
				lineCurrency = currency
			}
			moveInput.Lines = append(moveInput.Lines,
				ledger.MoveLineInput{
					Name:           name,
					AccountID:      spec.AccountID,
					PartnerID:      spec.PartnerID,
					Debit:          debitOf(balance),
					Credit:         creditOf(balance),
					Currency:       lineCurrency,
					AmountCurrency: amountCurrency,
				},
				// Balancing counter-line on the reconciled account.
				ledger.MoveLineInput{
					Name:           "Write-Off",
					AccountID:      first.AccountID,
					PartnerID:      first.PartnerID,
					Debit:          debitOf(-balance),
					Credit:         creditOf(-balance),
					Currency:       lineCurrency,
					AmountCurrency: -amountCurrency,
				},
			)
		}
		move, err := tx.CreateMove(ctx, moveInput)
		if err != nil {
			return nil, err
		}
		if err := tx.PostMove(ctx, move.ID); err != nil {
			return nil, err
		}
		*moveIDs = append(*moveIDs, move.ID)
		for _, line := range move.Lines {
			if line.AccountID == first.AccountID && !line.Reconciled {
				created = append(created, line)
			}
		}
	}
	return created, nil
}

// deriveWriteOffAmounts computes the signed balance and currency amount of a
// spec-derived line. A user-supplied balance is negated (the write-off
// offsets the residual); absent any amount the full open residual of the
// existing lines is absorbed.
func deriveWriteOffAmounts(spec WriteOffSpec, existing []ledger.LedgerLine, currency, companyCurrency string) (float64, float64) {
	var balance float64
	switch {
	case spec.Balance != nil:
		balance = -*spec.Balance
	case spec.Debit == nil && spec.Credit == nil:
		balance = sumResidual(existing)
	default:
		var debit, credit float64
		if spec.Debit != nil {
			debit = *spec.Debit
		}
		if spec.Credit != nil {
			credit = *spec.Credit
		}
		balance = credit - debit
	}

	var amountCurrency float64
	if currency == companyCurrency {
		amountCurrency = balance
	} else if spec.AmountCurrency != nil {
		amountCurrency = -*spec.AmountCurrency
	} else {
		for _, line := range existing {
			amountCurrency += line.AmountResidualCurrency
		}
	}
	return balance, amountCurrency
}

// commonCurrency returns the single currency shared by every line, or the
// company currency when the lines disagree or carry none.
func commonCurrency(lines []ledger.LedgerLine, companyCurrency string) string {
	common := ""
	for _, line := range lines {
		if line.Currency == "" {
			return companyCurrency
		}
		if common == "" {
			common = line.Currency
			continue
		}
		if line.Currency != common {
			return companyCurrency
		}
	}
	if common == "" {
		return companyCurrency
	}
	return common
}

// dedupeIDs drops repeated ids, keeping first-seen order. Repeats would
// otherwise skew the row counts that detect missing or concurrently
// reconciled lines.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sumResidual(lines []ledger.LedgerLine) float64 {
	var total float64
	for _, line := range lines {
		total += line.AmountResidual
	}
	return total
}

func debitOf(balance float64) float64 {
	if balance > 0 {
		return balance
	}
	return 0
}

func creditOf(balance float64) float64 {
	if balance < 0 {
		return -balance
	}
	return 0
}

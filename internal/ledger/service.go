package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetLines(ctx context.Context, ids []int64) ([]LedgerLine, error)
	GetMove(ctx context.Context, id int64) (Move, error)
}

// Service coordinates creating and posting journal entries.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostMove validates, creates, and posts a journal entry in one transaction.
func (s *Service) PostMove(ctx context.Context, input MoveInput) (Move, error) {
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	if err := input.Validate(); err != nil {
		return Move{}, err
	}
	var mv Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateMove(ctx, input)
		if err != nil {
			return err
		}
		if err := tx.PostMove(ctx, created.ID); err != nil {
			return err
		}
		created.State = MoveStatePosted
		for i := range created.Lines {
			created.Lines[i].MoveState = MoveStatePosted
		}
		mv = created
		return nil
	})
	if err != nil {
		return Move{}, fmt.Errorf("post move: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("move posted",
			slog.Int64("move_id", mv.ID),
			slog.String("name", mv.Name),
			slog.Int64("journal_id", mv.JournalID))
	}
	return mv, nil
}

// GetMove fetches a journal entry with its lines.
func (s *Service) GetMove(ctx context.Context, id int64) (Move, error) {
	return s.repo.GetMove(ctx, id)
}

// GetLines fetches ledger lines by id.
func (s *Service) GetLines(ctx context.Context, ids []int64) ([]LedgerLine, error) {
	return s.repo.GetLines(ctx, ids)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/model"
)

var (
	// ErrReadOnly is returned to anyone but the configured admin. The check
	// only shapes the UI; the backend enforces its own rules.
	ErrReadOnly     = errors.New("only the household admin can change the ledger")
	ErrInvalidInput = errors.New("invalid transaction")
)

// ReadOnlyBanner is shown to members who cannot edit.
const ReadOnlyBanner = "The ledger is read-only. Only the household admin can add or change entries."

// Backend is the subset of the api client the ledger needs.
type Backend interface {
	ListTransactions(ctx context.Context) ([]model.Transaction, error)
	CreateTransaction(ctx context.Context, in api.TransactionInput) error
	UpdateTransaction(ctx context.Context, id int64, in api.TransactionInput) error
	DeleteTransaction(ctx context.Context, id int64) error
}

type Service struct {
	backend    Backend
	adminEmail string
	logger     *slog.Logger

	mu  sync.RWMutex
	txs []model.Transaction
}

func NewService(backend Backend, adminEmail string, logger *slog.Logger) *Service {
	return &Service{
		backend:    backend,
		adminEmail: strings.TrimSpace(adminEmail),
		logger:     logger.With("component", "ledger"),
	}
}

// CanEdit reports whether u may mutate the ledger.
func (s *Service) CanEdit(u model.User) bool {
	return s.adminEmail != "" && strings.EqualFold(strings.TrimSpace(u.Email), s.adminEmail)
}

// Refresh fetches every transaction, newest first.
func (s *Service) Refresh(ctx context.Context) ([]model.Transaction, error) {
	txs, err := s.backend.ListTransactions(ctx)
	if err != nil {
		s.logger.Error("fetch transactions", "error", err)
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })

	s.mu.Lock()
	s.txs = txs
	s.mu.Unlock()
	return s.Transactions(), nil
}

// Transactions returns a copy of the last fetched list.
func (s *Service) Transactions() []model.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Transaction(nil), s.txs...)
}

func validate(in api.TransactionInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Type)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, u model.User, in api.TransactionInput) error {
	if !s.CanEdit(u) {
		return ErrReadOnly
	}
	if err := validate(in); err != nil {
		return err
	}
	if err := s.backend.CreateTransaction(ctx, in); err != nil {
		s.logger.Error("create transaction", "error", err)
		return fmt.Errorf("create transaction: %w", err)
	}
	s.logger.Info("transaction created", "type", in.Type, "amount", in.Amount.String())
	return s.refetch(ctx)
}

func (s *Service) Update(ctx context.Context, u model.User, id int64, in api.TransactionInput) error {
	if !s.CanEdit(u) {
		return ErrReadOnly
	}
	if err := validate(in); err != nil {
		return err
	}
	if err := s.backend.UpdateTransaction(ctx, id, in); err != nil {
		s.logger.Error("update transaction", "id", id, "error", err)
		return fmt.Errorf("update transaction: %w", err)
	}
	s.logger.Info("transaction updated", "id", id)
	return s.refetch(ctx)
}

func (s *Service) Delete(ctx context.Context, u model.User, id int64) error {
	if !s.CanEdit(u) {
		return ErrReadOnly
	}
	if err := s.backend.DeleteTransaction(ctx, id); err != nil {
		s.logger.Error("delete transaction", "id", id, "error", err)
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.logger.Info("transaction deleted", "id", id)
	return s.refetch(ctx)
}

func (s *Service) refetch(ctx context.Context) error {
	_, err := s.Refresh(ctx)
	return err
}

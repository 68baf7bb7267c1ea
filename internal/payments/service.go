// Package payments moves money on and off cards and serves their history.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cardledger/cardledger/internal/cards"
	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/idempotency"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/metrics"
	"github.com/cardledger/cardledger/internal/money"
	"github.com/cardledger/cardledger/internal/notification"
	"github.com/cardledger/cardledger/internal/store"
)

// Idempotency endpoint names.
const (
	EndpointDebit  = "POST /api/v1/cards/{cardId}/debit"
	EndpointCredit = "POST /api/v1/cards/{cardId}/credit"
)

// Column limits for caller-supplied transaction fields.
const (
	MaxPurposeLen    = 20
	MaxExternalIDLen = 128
)

// Service applies debits and credits to cards. Each call is one unit of work:
// the balance change, the ledger entry and the idempotency record commit together.
type Service struct {
	uow       store.UnitOfWork
	idem      *idempotency.Ledger
	converter *money.Converter
	notifier  notification.Notifier
	clock     clock.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewService constructs a payment service.
func NewService(uow store.UnitOfWork, idem *idempotency.Ledger, converter *money.Converter, notifier notification.Notifier, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		uow:       uow,
		idem:      idem,
		converter: converter,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
	}
}

// MovementInput captures one debit or credit. Amount is in Currency, which
// defaults to the card's currency when empty. Purpose applies to debits only.
type MovementInput struct {
	CardID         string
	UserID         int64
	ExternalID     string
	Amount         int64
	Currency       string
	Purpose        string
	IdempotencyKey string
}

// TransactionView is the public representation of a ledger entry.
type TransactionView struct {
	TransactionID string `json:"transaction_id"`
	ExternalID    string `json:"external_id"`
	CardID        string `json:"card_id"`
	Amount        int64  `json:"amount"`
	AfterBalance  int64  `json:"after_balance"`
	Currency      string `json:"currency"`
	Type          string `json:"type"`
	Purpose       string `json:"purpose,omitempty"`
	ExchangeRate  *int64 `json:"exchange_rate,omitempty"`
}

// NewTransactionView projects a transaction onto its public shape.
func NewTransactionView(t domain.Transaction) TransactionView {
	return TransactionView{
		TransactionID: t.ID,
		ExternalID:    t.ExternalID,
		CardID:        t.CardID,
		Amount:        t.Amount,
		AfterBalance:  t.AfterBalance,
		Currency:      string(t.Currency),
		Type:          string(t.Type),
		Purpose:       t.Purpose,
		ExchangeRate:  t.ExchangeRate,
	}
}

// Result is the outcome of a debit or credit.
type Result struct {
	View       TransactionView
	StatusCode int
	Replayed   bool
}

type movement struct {
	operation string
	endpoint  string
	txnType   domain.TransactionType
	kind      string
}

var (
	debit  = movement{operation: "debit", endpoint: EndpointDebit, txnType: domain.TransactionDebit, kind: notification.KindCardDebit}
	credit = movement{operation: "credit", endpoint: EndpointCredit, txnType: domain.TransactionCredit, kind: notification.KindCardCredit}
)

// Debit withdraws money from an ACTIVE card. The amount is converted into the
// card's currency and must not exceed the balance.
func (s *Service) Debit(ctx context.Context, in MovementInput) (Result, error) {
	return s.apply(ctx, in, debit)
}

// Credit deposits money onto an ACTIVE card.
func (s *Service) Credit(ctx context.Context, in MovementInput) (Result, error) {
	in.Purpose = ""
	return s.apply(ctx, in, credit)
}

func (s *Service) apply(ctx context.Context, in MovementInput, m movement) (Result, error) {
	var (
		res  Result
		card domain.Card
	)
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		rec, err := s.idem.Begin(ctx, tx.Idempotency(), in.IdempotencyKey, m.endpoint)
		if err != nil {
			return err
		}
		if rec != nil {
			view, err := idempotency.Decode[TransactionView](*rec, domain.ResourceTransaction)
			if err != nil {
				return err
			}
			if view.CardID != in.CardID {
				return fmt.Errorf("%w: key %s belongs to card %s", domain.ErrInvalidData, in.IdempotencyKey, view.CardID)
			}
			res = Result{View: view, StatusCode: rec.StatusCode, Replayed: true}
			return nil
		}
		if err := validateMovement(in, m); err != nil {
			return err
		}

		card, err = cards.OwnedCard(ctx, tx.Cards(), in.CardID, in.UserID)
		if err != nil {
			return err
		}
		if card.Status != domain.CardStatusActive {
			return fmt.Errorf("%w: card is %s", domain.ErrInvalidCardStatus, card.Status)
		}

		currency := card.Currency
		if in.Currency != "" {
			if currency, err = domain.ParseCurrency(in.Currency); err != nil {
				return err
			}
		}
		quote, err := s.converter.Quote(ctx, in.Amount, currency, card.Currency)
		if err != nil {
			return err
		}
		if quote.Amount <= 0 {
			return fmt.Errorf("%w: amount %d %s is below one minor unit of %s", domain.ErrInvalidData, in.Amount, currency, card.Currency)
		}

		switch m.txnType {
		case domain.TransactionDebit:
			if quote.Amount > card.Balance {
				return domain.ErrInsufficientFunds
			}
			card.Balance -= quote.Amount
		case domain.TransactionCredit:
			if card.Balance > math.MaxInt64-quote.Amount {
				return fmt.Errorf("%w: balance would overflow", domain.ErrInvalidData)
			}
			card.Balance += quote.Amount
		}

		now := s.clock.Now()
		card.UpdatedAt = now
		updated, err := tx.Cards().UpdateIfVersion(ctx, card, card.Version)
		if err != nil {
			return err
		}
		card = updated

		txn := domain.Transaction{
			ID:           s.newID(),
			ExternalID:   in.ExternalID,
			CardID:       card.ID,
			Type:         m.txnType,
			Amount:       in.Amount,
			AfterBalance: card.Balance,
			Currency:     currency,
			Purpose:      in.Purpose,
			ExchangeRate: quote.Rate,
			CreatedAt:    now,
		}
		if err := tx.Transactions().Insert(ctx, txn); err != nil {
			return err
		}

		res = Result{View: NewTransactionView(txn), StatusCode: http.StatusOK}
		return s.idem.Finish(ctx, tx.Idempotency(), in.IdempotencyKey, m.endpoint, idempotency.Result{
			ResourceID: txn.ID,
			Kind:       domain.ResourceTransaction,
			StatusCode: http.StatusOK,
			Payload:    res.View,
		})
	})

	switch {
	case err != nil:
		metrics.ObserveMutation(m.operation, metrics.OutcomeFor(err))
		s.logger.Warn("card mutation failed", "operation", m.operation, "card_id", in.CardID, "user_id", in.UserID,
			"idempotency_key", in.IdempotencyKey, "outcome", metrics.OutcomeFor(err), "error", err)
		return Result{}, err
	case res.Replayed:
		metrics.ObserveMutation(m.operation, metrics.OutcomeReplayed)
		return res, nil
	}

	metrics.ObserveMutation(m.operation, metrics.OutcomeSuccess)
	s.logger.Info("card mutation applied", "operation", m.operation, "card_id", card.ID, "user_id", in.UserID,
		"transaction_id", res.View.TransactionID, "after_balance", card.Balance, "version", card.Version)
	s.notify(ctx, card, res.View, m)
	return res, nil
}

func validateMovement(in MovementInput, m movement) error {
	if strings.TrimSpace(in.ExternalID) == "" {
		return fmt.Errorf("%w: external_id is required", domain.ErrInvalidData)
	}
	if utf8.RuneCountInString(in.ExternalID) > MaxExternalIDLen {
		return fmt.Errorf("%w: external_id must be at most %d characters", domain.ErrInvalidData, MaxExternalIDLen)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidData)
	}
	if m.txnType == domain.TransactionDebit {
		if strings.TrimSpace(in.Purpose) == "" {
			return fmt.Errorf("%w: purpose is required", domain.ErrInvalidData)
		}
		if utf8.RuneCountInString(in.Purpose) > MaxPurposeLen {
			return fmt.Errorf("%w: purpose must be at most %d characters", domain.ErrInvalidData, MaxPurposeLen)
		}
	}
	return nil
}

// notify runs after commit; delivery failures never undo the movement.
func (s *Service) notify(ctx context.Context, card domain.Card, view TransactionView, m movement) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notification.Message{
		Kind:          m.kind,
		UserID:        card.UserID,
		CardID:        card.ID,
		TransactionID: view.TransactionID,
		Body:          notification.Movement(m.kind, view.Amount, view.Currency, view.AfterBalance, string(card.Currency)),
	})
	if err != nil {
		s.logger.Warn("notification failed", "card_id", card.ID, "transaction_id", view.TransactionID, "error", err)
	}
}

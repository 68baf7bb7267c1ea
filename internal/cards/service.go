// Package cards owns card creation, lookup and the block/unblock/close lifecycle.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/idempotency"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/metrics"
	"github.com/cardledger/cardledger/internal/store"
)

// Idempotency endpoint names.
const (
	EndpointCreate  = "POST /api/v1/cards"
	EndpointBlock   = "POST /api/v1/cards/{cardId}/block"
	EndpointUnblock = "POST /api/v1/cards/{cardId}/unblock"
	EndpointClose   = "POST /api/v1/cards/{cardId}/close"
)

// Defaults applied when no limits are configured.
const (
	DefaultMaxPerUser        = 3
	DefaultMaxInitialBalance = 10000
)

const initialVersion int64 = 0

// View is the public representation of a card.
type View struct {
	CardID   string `json:"card_id"`
	UserID   int64  `json:"user_id"`
	Status   string `json:"status"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// NewView projects a card onto its public shape.
func NewView(c domain.Card) View {
	return View{
		CardID:   c.ID,
		UserID:   c.UserID,
		Status:   string(c.Status),
		Balance:  c.Balance,
		Currency: string(c.Currency),
	}
}

// snapshot is what the idempotency ledger keeps for card responses.
type snapshot struct {
	Card    View  `json:"card"`
	Version int64 `json:"version"`
}

// Result is a card response together with the version the caller should
// present on its next conditional write.
type Result struct {
	View       View
	Version    int64
	StatusCode int
	Replayed   bool
}

// Config bounds card creation.
type Config struct {
	MaxPerUser        int
	MaxInitialBalance int64
}

// Service implements card operations on top of a unit of work.
type Service struct {
	uow    store.UnitOfWork
	idem   *idempotency.Ledger
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
	newID  func() string
}

// NewService constructs a card service.
func NewService(uow store.UnitOfWork, idem *idempotency.Ledger, clk clock.Clock, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = DefaultMaxPerUser
	}
	if cfg.MaxInitialBalance <= 0 {
		cfg.MaxInitialBalance = DefaultMaxInitialBalance
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		uow:    uow,
		idem:   idem,
		clock:  clk,
		logger: logger,
		cfg:    cfg,
		newID:  func() string { return uuid.NewString() },
	}
}

// CreateInput describes a new card. Empty Status and Currency fall back to
// ACTIVE and UZS; a nil InitialAmount opens the card with a zero balance.
type CreateInput struct {
	UserID         int64
	Status         string
	Currency       string
	InitialAmount  *int64
	IdempotencyKey string
}

// Create opens a card for the user, replaying the recorded response when the
// idempotency key was already used.
func (s *Service) Create(ctx context.Context, in CreateInput) (Result, error) {
	var res Result
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		rec, err := s.idem.Begin(ctx, tx.Idempotency(), in.IdempotencyKey, EndpointCreate)
		if err != nil {
			return err
		}
		if rec != nil {
			res, err = replay(*rec)
			return err
		}

		cards := tx.Cards()
		if err := cards.LockUser(ctx, in.UserID); err != nil {
			return err
		}
		open, err := cards.CountOpenByUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if open >= s.cfg.MaxPerUser {
			return fmt.Errorf("%w: user %d already has %d open cards", domain.ErrCardLimitExceeded, in.UserID, open)
		}

		card, err := s.newCard(in)
		if err != nil {
			return err
		}
		if err := cards.Insert(ctx, card); err != nil {
			return err
		}

		res = Result{View: NewView(card), Version: card.Version, StatusCode: http.StatusCreated}
		return s.idem.Finish(ctx, tx.Idempotency(), in.IdempotencyKey, EndpointCreate, idempotency.Result{
			ResourceID: card.ID,
			Kind:       domain.ResourceCard,
			StatusCode: http.StatusCreated,
			Payload:    snapshot{Card: res.View, Version: res.Version},
		})
	})
	s.observe("create", res, err)
	if err != nil {
		s.logger.Warn("card creation failed", "user_id", in.UserID, "idempotency_key", in.IdempotencyKey, "error", err)
		return Result{}, err
	}
	if !res.Replayed {
		s.logger.Info("card created", "card_id", res.View.CardID, "user_id", in.UserID, "currency", res.View.Currency)
	}
	return res, nil
}

func (s *Service) newCard(in CreateInput) (domain.Card, error) {
	status := domain.CardStatusActive
	if in.Status != "" {
		st, err := domain.ParseCardStatus(in.Status)
		if err != nil {
			return domain.Card{}, err
		}
		if st == domain.CardStatusClosed {
			return domain.Card{}, fmt.Errorf("%w: a card cannot be created closed", domain.ErrInvalidCardStatus)
		}
		status = st
	}

	currency := domain.CurrencyUZS
	if in.Currency != "" {
		cur, err := domain.ParseCurrency(in.Currency)
		if err != nil {
			return domain.Card{}, fmt.Errorf("%w: %v", domain.ErrInvalidData, err)
		}
		currency = cur
	}

	var balance int64
	if in.InitialAmount != nil {
		balance = *in.InitialAmount
	}
	if balance < 0 || balance > s.cfg.MaxInitialBalance {
		return domain.Card{}, fmt.Errorf("%w: initial amount must be between 0 and %d", domain.ErrInvalidData, s.cfg.MaxInitialBalance)
	}

	now := s.clock.Now()
	return domain.Card{
		ID:        s.newID(),
		UserID:    in.UserID,
		Status:    status,
		Balance:   balance,
		Currency:  currency,
		Version:   initialVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get returns the caller's card and its current version.
func (s *Service) Get(ctx context.Context, cardID string, userID int64) (Result, error) {
	var card domain.Card
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		var err error
		card, err = OwnedCard(ctx, tx.Cards(), cardID, userID)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{View: NewView(card), Version: card.Version, StatusCode: http.StatusOK}, nil
}

// OwnedCard loads a card and checks that userID owns it.
func OwnedCard(ctx context.Context, cards store.CardStore, cardID string, userID int64) (domain.Card, error) {
	card, err := cards.Get(ctx, cardID)
	if err != nil {
		return domain.Card{}, err
	}
	if card.UserID != userID {
		return domain.Card{}, domain.ErrForbidden
	}
	return card, nil
}

// TransitionInput identifies a conditional lifecycle change. IfMatch must
// carry the card's current version token. IdempotencyKey is optional.
type TransitionInput struct {
	CardID         string
	UserID         int64
	IfMatch        string
	IdempotencyKey string
}

type transition struct {
	operation string
	endpoint  string
	from      []domain.CardStatus
	to        domain.CardStatus
}

var (
	blockTransition = transition{
		operation: "block",
		endpoint:  EndpointBlock,
		from:      []domain.CardStatus{domain.CardStatusActive},
		to:        domain.CardStatusBlocked,
	}
	unblockTransition = transition{
		operation: "unblock",
		endpoint:  EndpointUnblock,
		from:      []domain.CardStatus{domain.CardStatusBlocked},
		to:        domain.CardStatusActive,
	}
	closeTransition = transition{
		operation: "close",
		endpoint:  EndpointClose,
		from:      []domain.CardStatus{domain.CardStatusActive, domain.CardStatusBlocked},
		to:        domain.CardStatusClosed,
	}
)

// Block moves an ACTIVE card to BLOCKED.
func (s *Service) Block(ctx context.Context, in TransitionInput) (Result, error) {
	return s.transition(ctx, in, blockTransition)
}

// Unblock moves a BLOCKED card back to ACTIVE.
func (s *Service) Unblock(ctx context.Context, in TransitionInput) (Result, error) {
	return s.transition(ctx, in, unblockTransition)
}

// Close retires an ACTIVE or BLOCKED card. Closed cards accept no further changes.
func (s *Service) Close(ctx context.Context, in TransitionInput) (Result, error) {
	return s.transition(ctx, in, closeTransition)
}

func (s *Service) transition(ctx context.Context, in TransitionInput, t transition) (Result, error) {
	var res Result
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		if in.IdempotencyKey != "" {
			rec, err := s.idem.Begin(ctx, tx.Idempotency(), in.IdempotencyKey, t.endpoint)
			if err != nil {
				return err
			}
			if rec != nil {
				if res, err = replay(*rec); err != nil {
					return err
				}
				if res.View.CardID != in.CardID {
					return fmt.Errorf("%w: key %s belongs to card %s", domain.ErrInvalidData, in.IdempotencyKey, res.View.CardID)
				}
				return nil
			}
		}

		card, err := OwnedCard(ctx, tx.Cards(), in.CardID, in.UserID)
		if err != nil {
			return err
		}
		if !domain.MatchVersionToken(in.IfMatch, card.Version) {
			return domain.ErrPreconditionFailed
		}
		if !t.allows(card.Status) {
			return fmt.Errorf("%w: cannot %s a %s card", domain.ErrInvalidCardStatus, t.operation, card.Status)
		}

		card.Status = t.to
		card.UpdatedAt = s.clock.Now()
		updated, err := tx.Cards().UpdateIfVersion(ctx, card, card.Version)
		if err != nil {
			return err
		}

		res = Result{View: NewView(updated), Version: updated.Version, StatusCode: http.StatusNoContent}
		if in.IdempotencyKey == "" {
			return nil
		}
		return s.idem.Finish(ctx, tx.Idempotency(), in.IdempotencyKey, t.endpoint, idempotency.Result{
			ResourceID: updated.ID,
			Kind:       domain.ResourceCard,
			StatusCode: http.StatusNoContent,
			Payload:    snapshot{Card: res.View, Version: res.Version},
		})
	})
	s.observe(t.operation, res, err)
	if err != nil {
		s.logger.Warn("card transition rejected", "operation", t.operation, "card_id", in.CardID, "user_id", in.UserID, "error", err)
		return Result{}, err
	}
	if !res.Replayed {
		s.logger.Info("card status changed", "operation", t.operation, "card_id", in.CardID, "status", res.View.Status, "version", res.Version)
	}
	return res, nil
}

func (t transition) allows(st domain.CardStatus) bool {
	for _, from := range t.from {
		if st == from {
			return true
		}
	}
	return false
}

func (s *Service) observe(operation string, res Result, err error) {
	if err == nil && res.Replayed {
		metrics.ObserveMutation(operation, metrics.OutcomeReplayed)
		return
	}
	metrics.ObserveMutation(operation, metrics.OutcomeFor(err))
}

func replay(rec domain.IdempotencyRecord) (Result, error) {
	snap, err := idempotency.Decode[snapshot](rec, domain.ResourceCard)
	if err != nil {
		return Result{}, err
	}
	return Result{View: snap.Card, Version: snap.Version, StatusCode: rec.StatusCode, Replayed: true}, nil
}

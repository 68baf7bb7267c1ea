package payments

import (
	"context"

	"github.com/cardledger/cardledger/internal/cards"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/store"
)

// HistoryInput selects one page of a card's transactions. Empty filters match everything.
type HistoryInput struct {
	CardID        string
	UserID        int64
	Type          string
	TransactionID string
	ExternalID    string
	Currency      string
	Page          int
	Size          int
}

// Page is a slice of transactions, newest first.
type Page struct {
	Page       int               `json:"page"`
	Size       int               `json:"size"`
	TotalPages int               `json:"total_pages"`
	TotalItems int64             `json:"total_items"`
	Content    []TransactionView `json:"content"`
}

// History lists the caller's card transactions.
func (s *Service) History(ctx context.Context, in HistoryInput) (Page, error) {
	filter, err := buildFilter(in)
	if err != nil {
		return Page{}, err
	}

	var (
		txns  []domain.Transaction
		total int64
	)
	err = s.uow.Do(ctx, func(tx store.Tx) error {
		if _, err := cards.OwnedCard(ctx, tx.Cards(), in.CardID, in.UserID); err != nil {
			return err
		}
		txns, total, err = tx.Transactions().List(ctx, filter)
		return err
	})
	if err != nil {
		return Page{}, err
	}

	content := make([]TransactionView, 0, len(txns))
	for _, t := range txns {
		content = append(content, NewTransactionView(t))
	}
	return Page{
		Page:       filter.Page,
		Size:       filter.Size,
		TotalPages: int((total + int64(filter.Size) - 1) / int64(filter.Size)),
		TotalItems: total,
		Content:    content,
	}, nil
}

func buildFilter(in HistoryInput) (domain.TransactionFilter, error) {
	page, size := store.NormalizePage(in.Page, in.Size)
	f := domain.TransactionFilter{
		CardID:        in.CardID,
		TransactionID: in.TransactionID,
		ExternalID:    in.ExternalID,
		Page:          page,
		Size:          size,
	}
	if in.Type != "" {
		t, err := domain.ParseTransactionType(in.Type)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if in.Currency != "" {
		c, err := domain.ParseCurrency(in.Currency)
		if err != nil {
			return f, err
		}
		f.Currency = c
	}
	return f, nil
}

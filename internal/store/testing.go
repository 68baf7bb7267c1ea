package store

import "github.com/cardledger/cardledger/internal/domain"

// SeedCard is a test helper that stores a card directly in the in-memory store.
func SeedCard(m *Memory, card domain.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[card.ID] = card
}

// CommittedCard returns the committed state of a card in the in-memory store.
func CommittedCard(m *Memory, id string) (domain.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	return c, ok
}

// CommittedTransactions returns the committed transactions of a card in append order.
func CommittedTransactions(m *Memory, cardID string) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txns {
		if t.CardID == cardID {
			out = append(out, t)
		}
	}
	return out
}

// CommittedIdempotency returns the stored record for key, expired or not.
func CommittedIdempotency(m *Memory, key string) (domain.IdempotencyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idem[key]
	return rec, ok
}

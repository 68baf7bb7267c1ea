package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardledger/cardledger/internal/domain"
)

// Memory is a concurrency-safe in-memory unit of work used by tests and by
// the server when no database is configured. Writes are staged per unit of
// work and validated at commit, so a card write whose base version moved in
// the meantime fails with domain.ErrVersionConflict just like the SQL predicate.
type Memory struct {
	mu          sync.Mutex
	cards       map[string]domain.Card
	txns        []domain.Transaction
	externalIDs map[string]struct{}
	idem        map[string]domain.IdempotencyRecord

	userLocksMu sync.Mutex
	userLocks   map[int64]*sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cards:       make(map[string]domain.Card),
		externalIDs: make(map[string]struct{}),
		idem:        make(map[string]domain.IdempotencyRecord),
		userLocks:   make(map[int64]*sync.Mutex),
	}
}

// Do runs fn and commits its staged writes if it returns nil.
func (m *Memory) Do(ctx context.Context, fn func(Tx) error) error {
	t := &memTx{
		m:           m,
		cardUpdates: make(map[string]stagedCard),
		completions: make(map[string]domain.IdempotencyRecord),
		saves:       make(map[string]domain.IdempotencyRecord),
		lockedUsers: make(map[int64]*sync.Mutex),
	}
	defer t.unlockUsers()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return t.commit()
}

func (m *Memory) userLock(userID int64) *sync.Mutex {
	m.userLocksMu.Lock()
	defer m.userLocksMu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

type stagedCard struct {
	card domain.Card
	base int64
}

type memTx struct {
	m *Memory

	cardInserts []domain.Card
	cardUpdates map[string]stagedCard
	txnInserts  []domain.Transaction
	claims      []string
	completions map[string]domain.IdempotencyRecord
	saves       map[string]domain.IdempotencyRecord
	purges      []string
	purgeAt     time.Time
	lockedUsers map[int64]*sync.Mutex
}

func (t *memTx) Cards() CardStore               { return memCards{t} }
func (t *memTx) Transactions() TransactionStore { return memTransactions{t} }
func (t *memTx) Idempotency() IdempotencyStore  { return memIdempotency{t} }

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, staged := range t.cardUpdates {
		current, ok := m.cards[id]
		if !ok || current.Version != staged.base {
			t.releaseClaimsLocked()
			return domain.ErrVersionConflict
		}
	}
	for _, c := range t.cardInserts {
		if _, exists := m.cards[c.ID]; exists {
			t.releaseClaimsLocked()
			return fmt.Errorf("insert card: duplicate id %s", c.ID)
		}
	}
	for _, txn := range t.txnInserts {
		if _, exists := m.externalIDs[txn.ExternalID]; exists {
			t.releaseClaimsLocked()
			return fmt.Errorf("%w: external id %s", domain.ErrDuplicateTransaction, txn.ExternalID)
		}
	}
	for key, rec := range t.saves {
		if existing, ok := m.idem[key]; ok && !existing.Expired(rec.CreatedAt) {
			t.releaseClaimsLocked()
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, key)
		}
	}

	for _, c := range t.cardInserts {
		m.cards[c.ID] = c
	}
	for id, staged := range t.cardUpdates {
		m.cards[id] = staged.card
	}
	for _, txn := range t.txnInserts {
		m.txns = append(m.txns, txn)
		m.externalIDs[txn.ExternalID] = struct{}{}
	}
	for _, key := range t.purges {
		// A claim made since PurgeExpired ran may have replaced the record.
		if rec, ok := m.idem[key]; ok && rec.Expired(t.purgeAt) {
			delete(m.idem, key)
		}
	}
	for key, rec := range t.completions {
		m.idem[key] = rec
	}
	for key, rec := range t.saves {
		m.idem[key] = rec
	}
	return nil
}

func (t *memTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.releaseClaimsLocked()
}

func (t *memTx) releaseClaimsLocked() {
	for _, key := range t.claims {
		if rec, ok := t.m.idem[key]; ok && rec.State == domain.IdempotencyInProgress {
			delete(t.m.idem, key)
		}
	}
	t.claims = nil
}

func (t *memTx) unlockUsers() {
	for _, l := range t.lockedUsers {
		l.Unlock()
	}
}

// card returns the card as this unit of work sees it.
func (t *memTx) card(id string) (domain.Card, bool) {
	if staged, ok := t.cardUpdates[id]; ok {
		return staged.card, true
	}
	for _, c := range t.cardInserts {
		if c.ID == id {
			return c, true
		}
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	c, ok := t.m.cards[id]
	return c, ok
}

type memCards struct{ t *memTx }

func (r memCards) Get(_ context.Context, id string) (domain.Card, error) {
	c, ok := r.t.card(id)
	if !ok {
		return domain.Card{}, domain.ErrCardNotFound
	}
	return c, nil
}

func (r memCards) Insert(_ context.Context, c domain.Card) error {
	if _, exists := r.t.card(c.ID); exists {
		return fmt.Errorf("insert card: duplicate id %s", c.ID)
	}
	r.t.cardInserts = append(r.t.cardInserts, c)
	return nil
}

func (r memCards) CountOpenByUser(_ context.Context, userID int64) (int, error) {
	view := make(map[string]domain.Card)
	r.t.m.mu.Lock()
	for id, c := range r.t.m.cards {
		view[id] = c
	}
	r.t.m.mu.Unlock()
	for _, c := range r.t.cardInserts {
		view[c.ID] = c
	}
	for id, staged := range r.t.cardUpdates {
		view[id] = staged.card
	}

	n := 0
	for _, c := range view {
		if c.UserID == userID && c.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (r memCards) LockUser(ctx context.Context, userID int64) error {
	if _, held := r.t.lockedUsers[userID]; held {
		return nil
	}
	l := r.t.m.userLock(userID)
	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		r.t.lockedUsers[userID] = l
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.Unlock()
		}()
		return ctx.Err()
	}
}

func (r memCards) UpdateIfVersion(_ context.Context, c domain.Card, expected int64) (domain.Card, error) {
	current, ok := r.t.card(c.ID)
	if !ok {
		return domain.Card{}, domain.ErrCardNotFound
	}
	if current.Version != expected {
		return domain.Card{}, domain.ErrVersionConflict
	}

	base := current.Version
	if staged, ok := r.t.cardUpdates[c.ID]; ok {
		base = staged.base
	}

	updated := current
	updated.Status = c.Status
	updated.Balance = c.Balance
	updated.UpdatedAt = c.UpdatedAt
	updated.Version = expected + 1

	if r.isInserted(c.ID) {
		r.replaceInsert(updated)
		return updated, nil
	}
	r.t.cardUpdates[c.ID] = stagedCard{card: updated, base: base}
	return updated, nil
}

func (r memCards) isInserted(id string) bool {
	for _, c := range r.t.cardInserts {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (r memCards) replaceInsert(card domain.Card) {
	for i, c := range r.t.cardInserts {
		if c.ID == card.ID {
			r.t.cardInserts[i] = card
		}
	}
}

type memTransactions struct{ t *memTx }

func (r memTransactions) Insert(_ context.Context, txn domain.Transaction) error {
	r.t.m.mu.Lock()
	_, taken := r.t.m.externalIDs[txn.ExternalID]
	r.t.m.mu.Unlock()
	if !taken {
		for _, staged := range r.t.txnInserts {
			if staged.ExternalID == txn.ExternalID {
				taken = true
				break
			}
		}
	}
	if taken {
		return fmt.Errorf("%w: external id %s", domain.ErrDuplicateTransaction, txn.ExternalID)
	}
	r.t.txnInserts = append(r.t.txnInserts, txn)
	return nil
}

func (r memTransactions) List(_ context.Context, f domain.TransactionFilter) ([]domain.Transaction, int64, error) {
	r.t.m.mu.Lock()
	all := make([]domain.Transaction, 0, len(r.t.m.txns)+len(r.t.txnInserts))
	all = append(all, r.t.m.txns...)
	r.t.m.mu.Unlock()
	all = append(all, r.t.txnInserts...)

	// Walk backwards so that later appends come first among equal timestamps.
	matched := make([]domain.Transaction, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if matchesFilter(all[i], f) {
			matched = append(matched, all[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	page, size := NormalizePage(f.Page, f.Size)
	start := page * size
	if start >= len(matched) {
		return []domain.Transaction{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func matchesFilter(txn domain.Transaction, f domain.TransactionFilter) bool {
	switch {
	case txn.CardID != f.CardID:
		return false
	case f.Type != "" && txn.Type != f.Type:
		return false
	case f.TransactionID != "" && txn.ID != f.TransactionID:
		return false
	case f.ExternalID != "" && txn.ExternalID != f.ExternalID:
		return false
	case f.Currency != "" && txn.Currency != f.Currency:
		return false
	}
	return true
}

type memIdempotency struct{ t *memTx }

func (r memIdempotency) Find(_ context.Context, key string, now time.Time) (domain.IdempotencyRecord, bool, error) {
	if rec, ok := r.t.completions[key]; ok {
		return rec, true, nil
	}
	if rec, ok := r.t.saves[key]; ok {
		return rec, true, nil
	}
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	rec, ok := r.t.m.idem[key]
	if !ok || rec.Expired(now) {
		return domain.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

// Claim is visible to other units of work immediately; a rollback releases it.
func (r memIdempotency) Claim(_ context.Context, rec domain.IdempotencyRecord) (bool, error) {
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	if existing, ok := r.t.m.idem[rec.Key]; ok && !existing.Expired(rec.CreatedAt) {
		return false, nil
	}
	rec.State = domain.IdempotencyInProgress
	r.t.m.idem[rec.Key] = rec
	r.t.claims = append(r.t.claims, rec.Key)
	return true, nil
}

func (r memIdempotency) Complete(_ context.Context, rec domain.IdempotencyRecord) error {
	owned := false
	for _, key := range r.t.claims {
		if key == rec.Key {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("complete idempotency record %s: no pending claim", rec.Key)
	}
	rec.State = domain.IdempotencyCompleted
	r.t.completions[rec.Key] = rec
	return nil
}

func (r memIdempotency) Save(_ context.Context, rec domain.IdempotencyRecord) error {
	if _, staged := r.t.saves[rec.Key]; staged {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, rec.Key)
	}
	r.t.m.mu.Lock()
	existing, ok := r.t.m.idem[rec.Key]
	r.t.m.mu.Unlock()
	if ok && !existing.Expired(rec.CreatedAt) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, rec.Key)
	}
	rec.State = domain.IdempotencyCompleted
	r.t.saves[rec.Key] = rec
	return nil
}

// PurgeExpired stages the deletion of expired records; it takes effect on commit.
func (r memIdempotency) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.t.m.mu.Lock()
	defer r.t.m.mu.Unlock()
	var purged int64
	for key, rec := range r.t.m.idem {
		if rec.Expired(now) {
			r.t.purges = append(r.t.purges, key)
			purged++
		}
	}
	r.t.purgeAt = now
	return purged, nil
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/idempotency"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/money"
	"github.com/cardledger/cardledger/internal/notification"
	"github.com/cardledger/cardledger/internal/store"
)

var now = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *testNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type stubRates struct {
	rate decimal.Decimal
	err  error
}

func (s stubRates) Rate(context.Context) (decimal.Decimal, error) { return s.rate, s.err }

type fixture struct {
	svc      *Service
	mem      *store.Memory
	notifier *testNotifier
}

func newFixture(t *testing.T, rates money.RateSource) fixture {
	t.Helper()
	if rates == nil {
		rates = stubRates{rate: decimal.RequireFromString("12650.50")}
	}
	clk := clock.NewManual(now)
	mem := store.NewMemory()
	notifier := &testNotifier{}
	svc := NewService(mem, idempotency.NewLedger(idempotency.WithClock(clk)), money.NewConverter(rates), notifier, clk, logging.Discard())
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", seq)
	}
	return fixture{svc: svc, mem: mem, notifier: notifier}
}

func (f fixture) seed(id string, status domain.CardStatus, currency domain.Currency, balance int64) {
	store.SeedCard(f.mem, domain.Card{
		ID: id, UserID: 7, Status: status, Balance: balance, Currency: currency,
		Version: 1, CreatedAt: now, UpdatedAt: now,
	})
}

func debitInput(key, externalID string, amount int64) MovementInput {
	return MovementInput{
		CardID: "card-1", UserID: 7, ExternalID: externalID, Amount: amount,
		Purpose: "groceries", IdempotencyKey: key,
	}
}

func TestDebitSameCurrency(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 1000)

	res, err := f.svc.Debit(context.Background(), debitInput("k1", "ext-1", 300))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, int64(700), res.View.AfterBalance)
	assert.Equal(t, "DEBIT", res.View.Type)
	assert.Equal(t, "UZS", res.View.Currency)
	assert.Equal(t, "groceries", res.View.Purpose)
	assert.Nil(t, res.View.ExchangeRate)

	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, int64(700), card.Balance)
	assert.Equal(t, int64(2), card.Version)
	require.Len(t, store.CommittedTransactions(f.mem, "card-1"), 1)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, notification.KindCardDebit, f.notifier.sent[0].Kind)
}

func TestDebitConvertsForeignCurrency(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 100000)

	in := debitInput("k1", "ext-1", 2)
	in.Currency = "USD"
	res, err := f.svc.Debit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.View.Amount)
	assert.Equal(t, "USD", res.View.Currency)
	assert.Equal(t, int64(100000-25301), res.View.AfterBalance)
	require.NotNil(t, res.View.ExchangeRate)
	assert.Equal(t, int64(1265050), *res.View.ExchangeRate)
}

func TestCreditAddsAndDropsPurpose(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUSD, 50)

	res, err := f.svc.Credit(context.Background(), MovementInput{
		CardID: "card-1", UserID: 7, ExternalID: "ext-c", Amount: 1265050, Currency: "UZS",
		Purpose: "ignored", IdempotencyKey: "c1",
	})
	require.NoError(t, err)

	assert.Equal(t, "CREDIT", res.View.Type)
	assert.Empty(t, res.View.Purpose)
	assert.Equal(t, int64(150), res.View.AfterBalance)
	assert.Equal(t, notification.KindCardCredit, f.notifier.sent[0].Kind)
}

func TestDebitRejectionsLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name   string
		status domain.CardStatus
		rates  money.RateSource
		mutate func(*MovementInput)
		want   error
	}{
		{"insufficient funds", domain.CardStatusActive, nil, func(in *MovementInput) { in.Amount = 101 }, domain.ErrInsufficientFunds},
		{"blocked card", domain.CardStatusBlocked, nil, nil, domain.ErrInvalidCardStatus},
		{"closed card", domain.CardStatusClosed, nil, nil, domain.ErrInvalidCardStatus},
		{"foreign card", domain.CardStatusActive, nil, func(in *MovementInput) { in.UserID = 8 }, domain.ErrForbidden},
		{"unknown card", domain.CardStatusActive, nil, func(in *MovementInput) { in.CardID = "nope" }, domain.ErrCardNotFound},
		{"unsupported currency", domain.CardStatusActive, nil, func(in *MovementInput) { in.Currency = "EUR" }, domain.ErrUnsupportedConversion},
		{"rate unavailable", domain.CardStatusActive, stubRates{err: domain.ErrRateUnavailable}, func(in *MovementInput) { in.Currency = "USD" }, domain.ErrRateUnavailable},
		{"below one unit after conversion", domain.CardStatusActive, nil, func(in *MovementInput) { in.Amount = 1; in.Currency = "UZS"; in.CardID = "usd-card" }, domain.ErrInvalidData},
		{"missing purpose", domain.CardStatusActive, nil, func(in *MovementInput) { in.Purpose = "" }, domain.ErrInvalidData},
		{"zero amount", domain.CardStatusActive, nil, func(in *MovementInput) { in.Amount = 0 }, domain.ErrInvalidData},
		{"external id too long", domain.CardStatusActive, nil, func(in *MovementInput) { in.ExternalID = strings.Repeat("e", MaxExternalIDLen+1) }, domain.ErrInvalidData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.rates)
			f.seed("card-1", tc.status, domain.CurrencyUZS, 100)
			f.seed("usd-card", tc.status, domain.CurrencyUSD, 100)
			in := debitInput("k1", "ext-1", 60)
			if tc.mutate != nil {
				tc.mutate(&in)
			}

			_, err := f.svc.Debit(context.Background(), in)
			assert.ErrorIs(t, err, tc.want)

			card, _ := store.CommittedCard(f.mem, "card-1")
			assert.Equal(t, int64(100), card.Balance)
			assert.Equal(t, int64(1), card.Version)
			assert.Empty(t, store.CommittedTransactions(f.mem, "card-1"))
			_, recorded := store.CommittedIdempotency(f.mem, "k1")
			assert.False(t, recorded)
			assert.Zero(t, f.notifier.count())
		})
	}
}

func TestReplayIsByteIdenticalAndAppliedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 100000)
	ctx := context.Background()
	in := debitInput("same-key", "ext-1", 1)
	in.Currency = "USD"

	first, err := f.svc.Debit(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.Debit(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	a, _ := json.Marshal(first.View)
	b, _ := json.Marshal(second.View)
	assert.Equal(t, string(a), string(b))

	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, first.View.AfterBalance, card.Balance)
	assert.Equal(t, int64(2), card.Version)
	assert.Len(t, store.CommittedTransactions(f.mem, "card-1"), 1)
	assert.Equal(t, 1, f.notifier.count())
}

func TestReplayUnderOtherKindIsInvalidData(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 100)
	ctx := context.Background()

	err := f.mem.Do(ctx, func(tx store.Tx) error {
		body, err := idempotency.Encode(domain.ResourceCard, map[string]string{"card_id": "card-1"})
		if err != nil {
			return err
		}
		return tx.Idempotency().Save(ctx, domain.IdempotencyRecord{
			Key: "k1", Endpoint: EndpointDebit, State: domain.IdempotencyCompleted,
			ResourceKind: domain.ResourceCard, StatusCode: 200, Body: body,
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	_, err = f.svc.Debit(ctx, debitInput("k1", "ext-1", 10))
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}

func TestCreditWithDebitKeyIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 1000)
	ctx := context.Background()

	_, err := f.svc.Debit(ctx, debitInput("k1", "ext-1", 100))
	require.NoError(t, err)

	_, err = f.svc.Credit(ctx, MovementInput{CardID: "card-1", UserID: 7, ExternalID: "ext-2", Amount: 500, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, domain.ErrInvalidData)

	f.seed("card-2", domain.CardStatusActive, domain.CurrencyUZS, 1000)
	other := debitInput("k1", "ext-1", 100)
	other.CardID = "card-2"
	_, err = f.svc.Debit(ctx, other)
	assert.ErrorIs(t, err, domain.ErrInvalidData)

	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, int64(900), card.Balance)
	assert.Len(t, store.CommittedTransactions(f.mem, "card-1"), 1)
}

func TestDuplicateExternalIDIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 100)
	ctx := context.Background()

	_, err := f.svc.Debit(ctx, debitInput("k1", "ext-1", 10))
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, debitInput("k2", "ext-1", 10))
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, int64(90), card.Balance)
}

// barrierUoW holds every unit of work at its conditional write until all
// participants have read the card.
type barrierUoW struct {
	inner store.UnitOfWork
	ready *sync.WaitGroup
}

func (b barrierUoW) Do(ctx context.Context, fn func(store.Tx) error) error {
	return b.inner.Do(ctx, func(tx store.Tx) error {
		return fn(barrierTx{Tx: tx, ready: b.ready})
	})
}

type barrierTx struct {
	store.Tx
	ready *sync.WaitGroup
}

func (t barrierTx) Cards() store.CardStore {
	return barrierCards{CardStore: t.Tx.Cards(), ready: t.ready}
}

type barrierCards struct {
	store.CardStore
	ready *sync.WaitGroup
}

func (c barrierCards) UpdateIfVersion(ctx context.Context, card domain.Card, expected int64) (domain.Card, error) {
	c.ready.Done()
	c.ready.Wait()
	return c.CardStore.UpdateIfVersion(ctx, card, expected)
}

func TestConcurrentDebitsOneWinsOneConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 100)

	var ready sync.WaitGroup
	ready.Add(2)
	f.svc.uow = barrierUoW{inner: f.mem, ready: &ready}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			_, err := f.svc.Debit(context.Background(), debitInput(fmt.Sprintf("k%d", i), fmt.Sprintf("ext-%d", i), 60))
			errs <- err
		}(i)
	}

	var ok, conflicts int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, int64(40), card.Balance)
	assert.Equal(t, int64(2), card.Version)
	assert.Len(t, store.CommittedTransactions(f.mem, "card-1"), 1)
}

func TestBalanceNeverNegative(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 500)
	ctx := context.Background()

	amounts := []int64{200, 350, 300, 1, 1000, 299, 1}
	for i, a := range amounts {
		_, err := f.svc.Debit(ctx, debitInput(fmt.Sprintf("k%d", i), fmt.Sprintf("ext-%d", i), a))
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}
		card, _ := store.CommittedCard(f.mem, "card-1")
		require.GreaterOrEqual(t, card.Balance, int64(0))
	}
	card, _ := store.CommittedCard(f.mem, "card-1")
	assert.Equal(t, int64(0), card.Balance)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Debit(ctx, debitInput(fmt.Sprintf("d%d", i), fmt.Sprintf("ext-d%d", i), 10))
		require.NoError(t, err)
	}
	_, err := f.svc.Credit(ctx, MovementInput{CardID: "card-1", UserID: 7, ExternalID: "ext-c", Amount: 5, IdempotencyKey: "c"})
	require.NoError(t, err)

	page, err := f.svc.History(ctx, HistoryInput{CardID: "card-1", UserID: 7, Size: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 4)
	assert.Equal(t, "ext-c", page.Content[0].ExternalID)

	debits, err := f.svc.History(ctx, HistoryInput{CardID: "card-1", UserID: 7, Type: "debit", Page: 1, Size: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(5), debits.TotalItems)
	require.Len(t, debits.Content, 1)
	assert.Equal(t, "ext-d0", debits.Content[0].ExternalID)

	_, err = f.svc.History(ctx, HistoryInput{CardID: "card-1", UserID: 8})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.History(ctx, HistoryInput{CardID: "card-1", UserID: 7, Type: "REFUND"})
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}

func TestHistoryBeyondLastPageIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("card-1", domain.CardStatusActive, domain.CurrencyUZS, 1000)
	ctx := context.Background()
	_, err := f.svc.Debit(ctx, debitInput("d", "ext-d", 10))
	require.NoError(t, err)

	page, err := f.svc.History(ctx, HistoryInput{CardID: "card-1", UserID: 7, Page: 922337203685477581, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, store.MaxPage, page.Page)
	assert.Equal(t, int64(1), page.TotalItems)
	assert.Empty(t, page.Content)
}

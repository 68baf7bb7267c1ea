package notification

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// KindCardDebit indicates money left a card.
	KindCardDebit = "card_debit"
	// KindCardCredit indicates money arrived on a card.
	KindCardCredit = "card_credit"
)

// Message describes a notification payload.
type Message struct {
	Kind          string
	UserID        int64
	CardID        string
	TransactionID string
	Body          string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"user_id", message.UserID,
		"card_id", message.CardID,
		"transaction_id", message.TransactionID,
		"body", message.Body,
	)
	return nil
}

// Movement renders the text for a balance movement.
func Movement(kind string, amount int64, currency string, afterBalance int64, cardCurrency string) string {
	verb := "credited to"
	if kind == KindCardDebit {
		verb = "debited from"
	}
	return fmt.Sprintf("%d %s %s your card; balance %d %s", amount, currency, verb, afterBalance, cardCurrency)
}

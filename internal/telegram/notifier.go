// Package telegram delivers operator alerts to an admin chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imagestudio/internal/models"
)

const queueSize = 64

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier queues alerts and sends them from Run, so callers on the request path never wait
// on Telegram. Alerts beyond the queue capacity are dropped and logged.
type Notifier struct {
	api    sender
	chatID int64
	log    *slog.Logger
	queue  chan string
}

func NewNotifier(api sender, chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, queueSize),
	}
}

// NewBotNotifier connects to the Bot API with token.
func NewBotNotifier(token string, chatID int64, log *slog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewNotifier(api, chatID, log), nil
}

func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-n.queue:
			n.send(text)
		}
	}
}

func (n *Notifier) PaymentCredited(_ context.Context, userID int64, pkg *models.CreditPackage, paymentID string) {
	n.enqueue(fmt.Sprintf("Payment %s credited\nUser: %d\nPackage: %s (#%d)\nCredits: +%d, standard: +%d, hd: +%d",
		paymentID, userID, pkg.Title, pkg.ID, pkg.BalanceCredits, pkg.FreeStandard, pkg.FreeHD))
}

func (n *Notifier) GenerationRefunded(_ context.Context, userID int64, decision *models.Decision, reason string) {
	n.enqueue(fmt.Sprintf("Generation refunded\nUser: %d\nKind: %s (%s, cost %d)\nReason: %s",
		userID, decision.Kind, decision.Source, decision.Cost, reason))
}

func (n *Notifier) enqueue(text string) {
	select {
	case n.queue <- text:
	default:
		n.log.Warn("telegram alert queue full, dropping alert")
	}
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("send telegram alert", "err", err)
	}
}

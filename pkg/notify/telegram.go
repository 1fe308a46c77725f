// Package notify posts snapshot summaries to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/astromechza/chronos/pkg/events"
)

// Sender is the part of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements events.Publisher. A summary identical to the last one
// sent is skipped, so periodic resyncs stay quiet.
type Telegram struct {
	sender   Sender
	chatID   int64
	upcoming int
	now      func() time.Time

	mu   sync.Mutex
	last string
}

var _ events.Publisher = (*Telegram)(nil)

// SendTimeout bounds every request to the bot api.
const SendTimeout = 10 * time.Second

// NewTelegram connects to the bot api with the given token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: SendTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("telegram bot authorised", "account", bot.Self.UserName)
	return New(bot, chatID), nil
}

func New(sender Sender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID, upcoming: 3, now: time.Now}
}

// Publish sends the summary unless it matches the last one sent. It returns
// when ctx ends even if the send is still in flight.
func (t *Telegram) Publish(ctx context.Context, snapshot []events.Event) error {
	text := Summary(snapshot, t.now(), t.upcoming)

	t.mu.Lock()
	defer t.mu.Unlock()
	if text == t.last {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	sent := make(chan error, 1)
	go func() {
		_, err := t.sender.Send(msg)
		sent <- err
	}()
	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("failed to send telegram summary: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("failed to send telegram summary: %w", ctx.Err())
	}
	t.last = text
	return nil
}

// Summary renders the event count and the next n events that have not ended yet.
func Summary(snapshot []events.Event, now time.Time, n int) string {
	next := make([]events.Event, 0, len(snapshot))
	for _, ev := range snapshot {
		if ev.EndDate.After(now) {
			next = append(next, ev)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].StartDate.Before(next[j].StartDate)
	})
	if len(next) > n {
		next = next[:n]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Eventos cadastrados: %d", len(snapshot))
	if len(next) == 0 {
		sb.WriteString("\nNenhum evento próximo.")
		return sb.String()
	}
	sb.WriteString("\nPróximos eventos:")
	for _, ev := range next {
		fmt.Fprintf(&sb, "\n• %s (%s, %s)", ev.Title, ev.StartDate.Format("02/01/2006 15:04"), ev.Location)
	}
	return sb.String()
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
)

// Min interval between two messages to the same chat (Telegram allows ~30/min).
const sendInterval = 2 * time.Second

const queueSize = 50

var (
	ErrQueueFull = errors.New("telegram: message queue is full")
	ErrStopped   = errors.New("telegram: notifier stopped")
)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram queues alerts and sends them from a single goroutine, keeping at
// least sendInterval between messages.
type Telegram struct {
	bot      sender
	chatID   int64
	interval time.Duration
	logger   *slog.Logger

	queue  chan string
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewTelegram connects the bot and starts the sender goroutine.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: bot_token and chat_id are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false
	t := newTelegram(bot, cfg.ChatID, sendInterval, logger)
	t.logger.Info("Telegram notifier initialized", "chat_id", cfg.ChatID, "bot", bot.Self.UserName)
	return t, nil
}

func newTelegram(bot sender, chatID int64, interval time.Duration, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Telegram{
		bot:      bot,
		chatID:   chatID,
		interval: interval,
		logger:   logger.With("component", "telegram"),
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go t.run()
	return t
}

// Notify queues text without waiting for delivery.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.queue <- text:
		return nil
	default:
		t.logger.Warn("Telegram queue full, dropping alert", "preview", truncate(text, 50))
		return ErrQueueFull
	}
}

// Stop flushes queued messages and stops the sender.
func (t *Telegram) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

func (t *Telegram) run() {
	defer close(t.done)
	var last time.Time
	for {
		select {
		case <-t.ctx.Done():
			for {
				select {
				case text := <-t.queue:
					t.send(text)
				default:
					return
				}
			}
		case text := <-t.queue:
			if wait := t.interval - time.Since(last); wait > 0 {
				select {
				case <-t.ctx.Done():
				case <-time.After(wait):
				}
			}
			last = time.Now()
			t.send(text)
		}
	}
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	started := time.Now()
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("Telegram send failed", "error", err, "preview", truncate(text, 50))
		return
	}
	t.logger.Info("Telegram send success", "duration", time.Since(started), "queue_length", len(t.queue))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

type recordingBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	at   []time.Time
}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	b.at = append(b.at, time.Now())
	return tgbotapi.Message{}, nil
}

func TestTelegram_StopFlushesQueue(t *testing.T) {
	bot := &recordingBot{}
	n := newTelegram(bot, 42, 0, nil)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, n.Notify(context.Background(), text))
	}
	n.Stop()

	require.Len(t, bot.sent, 3)
	for i, want := range []string{"one", "two", "three"} {
		require.Equal(t, want, bot.sent[i].Text)
		require.Equal(t, int64(42), bot.sent[i].ChatID)
	}
	require.ErrorIs(t, n.Notify(context.Background(), "late"), ErrStopped)
}

func TestTelegram_KeepsInterval(t *testing.T) {
	bot := &recordingBot{}
	n := newTelegram(bot, 1, 30*time.Millisecond, nil)

	require.NoError(t, n.Notify(context.Background(), "a"))
	require.NoError(t, n.Notify(context.Background(), "b"))
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.sent) == 2
	}, time.Second, 5*time.Millisecond)
	n.Stop()

	require.GreaterOrEqual(t, bot.at[1].Sub(bot.at[0]), 25*time.Millisecond)
}

func TestFuncAndNop(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, text string) error { got = text; return nil })
	require.NoError(t, f.Notify(context.Background(), "hi"))
	require.Equal(t, "hi", got)
	require.NoError(t, Nop{}.Notify(context.Background(), "x"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab...", truncate("abcdef", 2))
	require.Equal(t, "жё...", truncate("жёлтый", 2))
}

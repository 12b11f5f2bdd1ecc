package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/pkg/imagegen"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return tgbotapi.Message{}, nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (r *recordingSender) photos() []tgbotapi.PhotoConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range r.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

type memService struct {
	mu      sync.Mutex
	history []imagegen.Generation
}

func (m *memService) Generate(_ context.Context, req imagegen.GenerateRequest) (imagegen.Generation, error) {
	return imagegen.Generation{ID: "g9", UserID: req.UserID, Prompt: req.Prompt, PublicURL: "https://cdn.example.com/g9.png"}, nil
}

func (m *memService) FetchHistory(context.Context, string) ([]imagegen.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]imagegen.Generation(nil), m.history...), nil
}

func (m *memService) DeleteHistory(context.Context, string) error { return nil }

func newTestAdapter(t *testing.T, allowed ...int64) (*Adapter, *recordingSender, *synchronizer.Synchronizer) {
	t.Helper()
	svc := &memService{history: []imagegen.Generation{
		{ID: "g2", Prompt: "a blue whale", PublicURL: "https://cdn.example.com/g2.png"},
		{ID: "g1", Prompt: "a red fox"},
	}}
	s := synchronizer.New(svc)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SignIn(context.Background(), "u1"))
	require.NoError(t, s.Refresh(context.Background()))

	out := &recordingSender{}
	return newAdapter(out, s, imagegen.DefaultModel, allowed), out, s
}

func command(text string) *tgbotapi.Message {
	name, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 100},
		From:     &tgbotapi.User{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func TestGenerateSendsPhoto(t *testing.T) {
	a, out, s := newTestAdapter(t)
	a.handleMessage(context.Background(), command("/gen a green owl"))
	a.wg.Wait()

	photos := out.photos()
	require.Len(t, photos, 1)
	assert.Equal(t, int64(100), photos[0].ChatID)
	assert.Equal(t, tgbotapi.FileURL("https://cdn.example.com/g9.png"), photos[0].File)
	assert.Contains(t, photos[0].Caption, "a green owl")
	assert.Equal(t, "g9", s.Snapshot().Selected)
}

func TestPlainTextIsPrompt(t *testing.T) {
	a, out, _ := newTestAdapter(t)
	msg := &tgbotapi.Message{Text: "a cat in space", Chat: &tgbotapi.Chat{ID: 100}, From: &tgbotapi.User{ID: 7}}
	a.handleMessage(context.Background(), msg)
	a.wg.Wait()
	assert.Len(t, out.photos(), 1)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	a, out, _ := newTestAdapter(t)
	a.handleMessage(context.Background(), command("/gen"))
	a.wg.Wait()
	require.NotEmpty(t, out.texts())
	assert.Contains(t, out.texts()[0], "prompt is empty")
	assert.Empty(t, out.photos())
}

func TestHistoryAndSelect(t *testing.T) {
	a, out, s := newTestAdapter(t)
	ctx := context.Background()

	a.handleMessage(ctx, command("/history"))
	require.Len(t, out.texts(), 1)
	assert.Contains(t, out.texts()[0], "g2\n  a blue whale")

	a.handleMessage(ctx, command("/select g2"))
	assert.Equal(t, "g2", s.Snapshot().Selected)
	assert.Len(t, out.photos(), 1)

	a.handleMessage(ctx, command("/link"))
	assert.Equal(t, "https://cdn.example.com/g2.png", out.texts()[len(out.texts())-1])

	a.handleMessage(ctx, command("/select missing"))
	assert.Contains(t, out.texts()[len(out.texts())-1], "Error:")
}

func TestDeleteAndNew(t *testing.T) {
	a, out, s := newTestAdapter(t)
	ctx := context.Background()

	a.handleMessage(ctx, command("/select g1"))
	a.handleMessage(ctx, command("/delete g1"))
	assert.Equal(t, []string{"g2"}, s.Snapshot().IDs())
	assert.Empty(t, s.Snapshot().Selected)
	assert.Contains(t, out.texts(), "Deleted g1")

	a.handleMessage(ctx, command("/select g2"))
	a.handleMessage(ctx, command("/new"))
	assert.Empty(t, s.Snapshot().Selected)
}

func TestNotAuthorized(t *testing.T) {
	a, out, s := newTestAdapter(t, 42)
	a.handleMessage(context.Background(), command("/gen a fox"))
	a.wg.Wait()

	assert.Equal(t, []string{"Not authorized."}, out.texts())
	assert.Len(t, s.Snapshot().History, 2)
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	assert.Equal(t, []string{short}, splitMessage(short))

	parts := splitMessage(strings.Repeat("a", 5000))
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], maxTelegramMessage)
	assert.Equal(t, strings.Repeat("a", 5000), strings.Join(parts, ""))
}

func TestSplitMessageKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 5000)
	parts := splitMessage(text)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p))
	}
	assert.Equal(t, maxTelegramMessage, utf8.RuneCountInString(parts[0]))
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSplitMessagePrefersLineBreaks(t *testing.T) {
	line := strings.Repeat("b", 99) + "\n"
	text := strings.Repeat(line, 50)
	parts := splitMessage(text)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasSuffix(parts[0], "\n"))
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSelectAndDeleteRequireID(t *testing.T) {
	a, out, s := newTestAdapter(t)
	ctx := context.Background()

	a.handleMessage(ctx, command("/delete"))
	a.handleMessage(ctx, command("/select"))

	assert.Equal(t, []string{"Usage: /delete <id>", "Usage: /select <id>"}, out.texts())
	assert.Equal(t, []string{"g2", "g1"}, s.Snapshot().IDs())
	assert.Empty(t, out.photos())
}

func TestFormatHistoryLimit(t *testing.T) {
	snap := synchronizer.Snapshot{}
	for i := 0; i < historyListLimit+5; i++ {
		snap.History = append(snap.History, imagegen.Generation{ID: "g", Prompt: "p"})
	}
	assert.True(t, strings.HasSuffix(formatHistory(snap), "... and 5 more"))
	assert.Equal(t, "No generations yet.", formatHistory(synchronizer.Snapshot{}))
}

// Package telegram drives a Synchronizer from a Telegram bot chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/pkg/imagegen"
)

const (
	maxTelegramMessage = 4096
	maxCaption         = 1024
	historyListLimit   = 20
)

// Core is the part of the synchronizer the bot drives.
type Core interface {
	SubmitGeneration(ctx context.Context, prompt, model string) (imagegen.Generation, error)
	DeleteGeneration(ctx context.Context, id string) error
	SelectFromHistory(id string) error
	StartNewSession() error
	Refresh(ctx context.Context) error
	Snapshot() synchronizer.Snapshot
}

// sender is the subset of *tgbotapi.BotAPI used for replies.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to the synchronizer. All chats share the
// synchronizer's signed-in user.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	out     sender
	core    Core
	model   string
	allowed map[int64]bool
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Telegram adapter. When allowed is empty every Telegram user
// may drive the bot.
func New(token string, core Core, model string, allowed []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, core, model, allowed)
	a.bot = bot
	return a, nil
}

func newAdapter(out sender, core Core, model string, allowed []int64) *Adapter {
	a := &Adapter{
		out:     out,
		core:    core,
		model:   model,
		allowed: make(map[int64]bool, len(allowed)),
		logger:  slog.Default(),
	}
	for _, id := range allowed {
		a.allowed[id] = true
	}
	return a
}

// Start long-polls for updates until ctx is done, then waits for running
// generations to reply.
func (a *Adapter) Start(ctx context.Context) {
	if len(a.allowed) == 0 {
		a.logger.Warn("telegram bot accepts messages from any user")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			a.wg.Wait()
			return
		}
	}
}

func (a *Adapter) permitted(msg *tgbotapi.Message) bool {
	if len(a.allowed) == 0 {
		return true
	}
	return msg.From != nil && a.allowed[msg.From.ID]
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !a.permitted(msg) {
		a.reply(chatID, "Not authorized.")
		return
	}

	if !msg.IsCommand() {
		// Plain text is a prompt.
		a.generate(ctx, chatID, msg.Text)
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		a.reply(chatID, helpText)

	case "gen":
		a.generate(ctx, chatID, args)

	case "history":
		a.reply(chatID, formatHistory(a.core.Snapshot()))

	case "select":
		if args == "" {
			a.reply(chatID, "Usage: /select <id>")
			return
		}
		if err := a.core.SelectFromHistory(args); err != nil {
			a.replyError(chatID, err)
			return
		}
		gen, _ := a.core.Snapshot().SelectedGeneration()
		a.sendGeneration(chatID, gen)

	case "delete":
		if args == "" {
			a.reply(chatID, "Usage: /delete <id>")
			return
		}
		if err := a.core.DeleteGeneration(ctx, args); err != nil {
			a.replyError(chatID, err)
			return
		}
		a.reply(chatID, "Deleted "+args)

	case "new":
		if err := a.core.StartNewSession(); err != nil {
			a.replyError(chatID, err)
			return
		}
		a.reply(chatID, "New session. Send a prompt to generate.")

	case "link":
		gen, ok := a.core.Snapshot().SelectedGeneration()
		switch {
		case !ok:
			a.reply(chatID, "Nothing selected.")
		case gen.Pending():
			a.reply(chatID, gen.ID+" has no image yet.")
		default:
			a.reply(chatID, gen.PublicURL)
		}

	case "refresh":
		if err := a.core.Refresh(ctx); err != nil {
			a.replyError(chatID, err)
			return
		}
		a.reply(chatID, fmt.Sprintf("%d generation(s).", len(a.core.Snapshot().History)))

	case "status":
		snap := a.core.Snapshot()
		a.reply(chatID, fmt.Sprintf("User: %s\nGenerations: %d\nGenerating: %t\nPending deletes: %d",
			snap.UserID, len(snap.History), snap.Generating, len(snap.PendingDeletes)))

	default:
		a.reply(chatID, "Unknown command. Try /help")
	}
}

const helpText = `Send any text to generate an image.
/gen <prompt> - generate an image
/history - list recent generations
/select <id> - show a generation
/delete <id> - delete a generation
/link - link to the selected image
/new - start a new session
/refresh - reload history
/status - show status`

// generate runs a submission in the background so polling continues while
// the service works.
func (a *Adapter) generate(ctx context.Context, chatID int64, prompt string) {
	if err := imagegen.ValidatePrompt(prompt); err != nil {
		a.replyError(chatID, err)
		return
	}
	if a.core.Snapshot().Generating {
		a.replyError(chatID, synchronizer.ErrBusy)
		return
	}

	a.reply(chatID, "Generating...")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		gen, err := a.core.SubmitGeneration(ctx, prompt, a.model)
		if err != nil {
			a.replyError(chatID, err)
			return
		}
		a.sendGeneration(chatID, gen)
	}()
}

func (a *Adapter) sendGeneration(chatID int64, gen imagegen.Generation) {
	if gen.Pending() {
		a.reply(chatID, fmt.Sprintf("%s: image not ready yet.", gen.ID))
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(gen.PublicURL))
	photo.Caption = truncate(fmt.Sprintf("%s\n%s", gen.Prompt, gen.ID), maxCaption)
	if _, err := a.out.Send(photo); err != nil {
		a.logger.Warn("send photo failed, falling back to link", "generation_id", gen.ID, "error", err)
		a.reply(chatID, gen.PublicURL)
	}
}

func (a *Adapter) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, synchronizer.ErrBusy):
		a.reply(chatID, "Still working on the previous image.")
	case errors.Is(err, synchronizer.ErrSignedOut):
		a.reply(chatID, "No user is signed in.")
	default:
		a.reply(chatID, "Error: "+imagegen.UserMessage(err))
	}
}

func (a *Adapter) reply(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.out.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			a.logger.Error("send message failed", "chat_id", chatID, "error", err)
		}
	}
}

func formatHistory(snap synchronizer.Snapshot) string {
	if len(snap.History) == 0 {
		return "No generations yet."
	}
	var b strings.Builder
	for i, g := range snap.History {
		if i == historyListLimit {
			fmt.Fprintf(&b, "... and %d more", len(snap.History)-historyListLimit)
			break
		}
		mark := ""
		if g.ID == snap.Selected {
			mark = " (selected)"
		}
		fmt.Fprintf(&b, "%s%s\n  %s\n", g.ID, mark, truncate(g.Prompt, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitMessage breaks text into chunks of at most maxTelegramMessage
// characters, cutting after a newline when one is in the second half of
// the chunk.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(runes) > maxTelegramMessage {
		end := maxTelegramMessage
		for i := end - 1; i >= end/2; i-- {
			if runes[i] == '\n' {
				end = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

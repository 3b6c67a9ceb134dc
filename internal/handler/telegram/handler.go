package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/pkg/utils"
)

// UserKeyPrefix namespaces Telegram chats in the shared session store.
const UserKeyPrefix = "tg:"

// Dialog is the conversation core driven by inbound updates.
type Dialog interface {
	Handle(ctx context.Context, userID string, event feedback.Event) feedback.Prompt
}

// Sender delivers replies back to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// FetchFunc downloads a Telegram file and reports its remote path.
type FetchFunc func(ctx context.Context, fileID string) (data []byte, filePath string, err error)

// Handler adapts Telegram updates to dialog events.
type Handler struct {
	sender      Sender
	dialog      Dialog
	fetch       FetchFunc
	failureText string
	locks       *utils.KeyedMutex
}

// New creates a handler. failureText is sent when a photo cannot be downloaded.
func New(sender Sender, dialog Dialog, fetch FetchFunc, failureText string) *Handler {
	return &Handler{
		sender:      sender,
		dialog:      dialog,
		fetch:       fetch,
		failureText: failureText,
		locks:       utils.NewKeyedMutex(),
	}
}

// BotFetcher downloads files through the Bot API file endpoint.
func BotFetcher(bot *tgbotapi.BotAPI, client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, fileID string) ([]byte, string, error) {
		file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return nil, "", fmt.Errorf("get file %s: %w", fileID, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(bot.Token), nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("download file %s: %w", fileID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read file %s: %w", fileID, err)
		}
		return data, file.FilePath, nil
	}
}

// ServeHTTP accepts webhook deliveries. Updates are processed before the
// response is written so Telegram keeps per-chat ordering.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		log.Printf("[telegram] invalid webhook payload: %v", err)
		utils.RespondError(w, http.StatusBadRequest, "invalid update")
		return
	}

	h.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("!"))
}

// Poll consumes long-poll updates until ctx is done or the channel closes.
func (h *Handler) Poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate routes one update to the dialog and sends the reply.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	userID := UserKeyPrefix + strconv.FormatInt(msg.Chat.ID, 10)
	unlock := h.locks.Lock(userID)
	defer unlock()

	event, ok, err := h.toEvent(ctx, msg)
	if err != nil {
		log.Printf("[telegram] chat=%d: %v", msg.Chat.ID, err)
		h.reply(msg.Chat.ID, feedback.Prompt{Text: h.failureText})
		return
	}
	if !ok {
		return
	}

	h.reply(msg.Chat.ID, h.dialog.Handle(ctx, userID, event))
}

func (h *Handler) toEvent(ctx context.Context, msg *tgbotapi.Message) (feedback.Event, bool, error) {
	switch {
	case msg.IsCommand():
		return commandEvent(msg.Command()), true, nil

	case len(msg.Photo) > 0:
		// Telegram lists sizes ascending; the last one is the original.
		largest := msg.Photo[len(msg.Photo)-1]
		data, filePath, err := h.fetch(ctx, largest.FileID)
		if err != nil {
			return feedback.Event{}, false, err
		}
		return feedback.AttachmentEvent(data, path.Base(filePath)), true, nil

	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		data, filePath, err := h.fetch(ctx, msg.Document.FileID)
		if err != nil {
			return feedback.Event{}, false, err
		}
		name := msg.Document.FileName
		if name == "" {
			name = path.Base(filePath)
		}
		return feedback.AttachmentEvent(data, name), true, nil

	case msg.Text != "":
		return feedback.TextEvent(msg.Text), true, nil
	}
	return feedback.Event{}, false, nil
}

func commandEvent(name string) feedback.Event {
	switch name {
	case "start":
		return feedback.CommandEvent(feedback.CommandBegin)
	case "cancel":
		return feedback.CommandEvent(feedback.CommandCancel)
	case "done":
		return feedback.CommandEvent(feedback.CommandDone)
	}
	return feedback.CommandEvent(name)
}

func (h *Handler) reply(chatID int64, prompt feedback.Prompt) {
	if _, err := h.sender.Send(renderPrompt(chatID, prompt)); err != nil {
		log.Printf("[telegram] failed to reply to chat=%d: %v", chatID, err)
	}
}

func renderPrompt(chatID int64, prompt feedback.Prompt) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, prompt.Text)
	switch {
	case len(prompt.Choices) > 0:
		buttons := make([]tgbotapi.KeyboardButton, 0, len(prompt.Choices))
		for _, choice := range prompt.Choices {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(choice))
		}
		keyboard := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(buttons...))
		keyboard.OneTimeKeyboard = true
		keyboard.ResizeKeyboard = true
		msg.ReplyMarkup = keyboard
	case prompt.RemoveChoices:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return msg
}

package telegram

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NewBot authenticates against the Bot API.
func NewBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = debug
	log.Printf("[telegram] authorized as @%s", bot.Self.UserName)
	return bot, nil
}

// SetWebhook points Telegram at baseURL + path.
func SetWebhook(bot *tgbotapi.BotAPI, baseURL, path string) error {
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	log.Println("[telegram] webhook successfully set")
	return nil
}

// DeleteWebhook switches the bot back to long-polling.
func DeleteWebhook(bot *tgbotapi.BotAPI) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// Updates starts long-polling with the given timeout in seconds.
func Updates(bot *tgbotapi.BotAPI, timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return bot.GetUpdatesChan(u)
}

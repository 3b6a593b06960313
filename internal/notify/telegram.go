package notify

import (
	"context"
	"fmt"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender talks to the Telegram Bot API. Send targets the admin chat;
// SendTo targets a trader, whose user id is their Telegram chat id.
type TelegramSender struct {
	baseURL     string
	token       string
	adminChatID string
	client      *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// admin chat.
func NewTelegramSender(token, adminChatID string) *TelegramSender {
	return &TelegramSender{
		baseURL:     telegramAPI,
		token:       token,
		adminChatID: adminChatID,
		client:      newHTTPClient(),
	}
}

// Send posts to the admin chat.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.SendTo(ctx, t.adminChatID, title, message)
}

// SendTo posts to chatID with the title in bold.
func (t *TelegramSender) SendTo(ctx context.Context, chatID, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

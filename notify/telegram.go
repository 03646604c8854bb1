package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	stepup "github.com/BlakeMcBride1625/stepup"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers messages through the Telegram Bot API. The
// principal must be resolvable to a chat ID through Resolve; typically this
// is the [stepup.DirectoryProvider] the engine was built with.
type TelegramNotifier struct {
	BotToken string
	// Resolve maps a principal to a Telegram chat ID. Returning false
	// fails the send.
	Resolve func(principal string) (string, bool)
	// Client defaults to a client with a 10s timeout.
	Client *http.Client
	// BaseURL overrides the Telegram API endpoint, for tests.
	BaseURL string
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (n *TelegramNotifier) Send(ctx context.Context, principal, text string) (stepup.MessageHandle, error) {
	if n.Resolve == nil {
		return "", fmt.Errorf("telegram: no principal resolver configured")
	}
	chatID, ok := n.Resolve(principal)
	if !ok {
		return "", fmt.Errorf("telegram: no chat mapping for principal")
	}

	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("text", text)

	var resp telegramResponse
	if err := n.call(ctx, "sendMessage", params, &resp); err != nil {
		return "", err
	}

	// handle carries the chat so Delete does not need the directory again
	return stepup.MessageHandle(fmt.Sprintf("%s:%d", chatID, resp.Result.MessageID)), nil
}

func (n *TelegramNotifier) Delete(ctx context.Context, principal string, handle stepup.MessageHandle) error {
	chatID, messageID, ok := strings.Cut(string(handle), ":")
	if !ok {
		return stepup.ErrMessageNotFound
	}

	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", messageID)

	var resp telegramResponse
	err := n.call(ctx, "deleteMessage", params, &resp)
	if err != nil && strings.Contains(err.Error(), "message to delete not found") {
		return stepup.ErrMessageNotFound
	}
	return err
}

func (n *TelegramNotifier) call(ctx context.Context, method string, params url.Values, out *telegramResponse) error {
	base := n.BaseURL
	if base == "" {
		base = telegramAPIBase
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", base, n.BotToken, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := n.client().Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: %s failed: %d %s", method, out.ErrorCode, out.Description)
	}
	return nil
}

func (n *TelegramNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	stepup "github.com/BlakeMcBride1625/stepup"
)

const discordAPIBase = "https://discord.com/api/v10"

// DiscordNotifier delivers messages as direct messages through a Discord
// bot. The principal is used as the Discord user ID unless Resolve is set.
type DiscordNotifier struct {
	BotToken string
	// Resolve maps a principal to a Discord user ID. When nil the
	// principal itself is used.
	Resolve func(principal string) (string, bool)
	// Client defaults to a client with a 10s timeout.
	Client *http.Client
	// BaseURL overrides the Discord API endpoint, for tests.
	BaseURL string
}

func (n *DiscordNotifier) Send(ctx context.Context, principal, text string) (stepup.MessageHandle, error) {
	userID := principal
	if n.Resolve != nil {
		resolved, ok := n.Resolve(principal)
		if !ok {
			return "", fmt.Errorf("discord: no user mapping for principal")
		}
		userID = resolved
	}

	// a DM requires opening (or reusing) the DM channel first
	var channel struct {
		ID string `json:"id"`
	}
	if err := n.call(ctx, http.MethodPost, "/users/@me/channels", map[string]any{"recipient_id": userID}, &channel); err != nil {
		return "", err
	}

	var message struct {
		ID string `json:"id"`
	}
	if err := n.call(ctx, http.MethodPost, "/channels/"+channel.ID+"/messages", map[string]any{"content": text}, &message); err != nil {
		return "", err
	}

	return stepup.MessageHandle(channel.ID + ":" + message.ID), nil
}

func (n *DiscordNotifier) Delete(ctx context.Context, principal string, handle stepup.MessageHandle) error {
	channelID, messageID, ok := strings.Cut(string(handle), ":")
	if !ok {
		return stepup.ErrMessageNotFound
	}
	return n.call(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

func (n *DiscordNotifier) call(ctx context.Context, method, path string, body any, out any) error {
	base := n.BaseURL
	if base == "" {
		base = discordAPIBase
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("discord: encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, payload)
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+n.BotToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := n.client().Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return stepup.ErrMessageNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("discord: %s %s: unexpected status %d", method, path, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("discord: decode response: %w", err)
		}
	}
	return nil
}

func (n *DiscordNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

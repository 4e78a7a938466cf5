package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// pollTimeout is the server-side long-poll wait in seconds.
	pollTimeout = 30
	// pollRetryDelay is the pause after a failed getUpdates call.
	pollRetryDelay = 5 * time.Second
)

// CommandHandler answers a chat command. An empty reply sends nothing.
type CommandHandler func(command string) string

type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
	} `json:"message"`
}

type updatesResponse struct {
	OK          bool             `json:"ok"`
	Description string           `json:"description"`
	Result      []telegramUpdate `json:"result"`
}

// pollingClient shares the send client's transport, proxy included, with a
// timeout long enough to outlast the server-side wait.
func (t *TelegramNotifier) pollingClient() *http.Client {
	var transport http.RoundTripper
	if t.Client != nil {
		transport = t.Client.Transport
	}
	return &http.Client{
		Timeout:   (pollTimeout + 5) * time.Second,
		Transport: transport,
	}
}

// StartPolling long-polls for chat commands and replies to each through
// Send. Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	client := t.pollingClient()
	offset := 0
	for {
		next, err := t.pollOnce(ctx, client, offset, handler)
		if ctx.Err() != nil {
			log.Println("[INFO] Telegram polling stopped")
			return
		}
		if err != nil {
			log.Printf("[WARN] polling failed: %v", err)
			select {
			case <-ctx.Done():
				log.Println("[INFO] Telegram polling stopped")
				return
			case <-time.After(pollRetryDelay):
			}
		}
		offset = next
	}
}

// pollOnce fetches one batch of updates starting at offset, dispatches the
// commands in it and returns the offset for the next call.
func (t *TelegramNotifier) pollOnce(ctx context.Context, client *http.Client, offset int, handler CommandHandler) (int, error) {
	apiURL := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d", t.APIBase, t.BotToken, offset, pollTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return offset, fmt.Errorf("create polling request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return offset, fmt.Errorf("get updates: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return offset, fmt.Errorf("read updates: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return offset, fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result updatesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return offset, fmt.Errorf("decode updates: %w", err)
	}
	if !result.OK {
		return offset, fmt.Errorf("telegram API error: %s", result.Description)
	}

	for _, update := range result.Result {
		if update.UpdateID >= offset {
			offset = update.UpdateID + 1
		}
		if update.Message == nil {
			continue
		}
		text := strings.TrimSpace(update.Message.Text)
		if text == "" {
			continue
		}
		log.Printf("[INFO] received command: %s", text)
		if reply := handler(text); reply != "" {
			if err := t.Send(reply); err != nil {
				log.Printf("[ERROR] send reply: %v", err)
			}
		}
	}
	return offset, nil
}

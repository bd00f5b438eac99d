// Package slacksender implements the outbound side of a job's "slack"
// output type: posting a job report back to the channel/thread it runs
// against, using per-account bot tokens.
package slacksender

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const slackAPIBase = "https://slack.com/api/"

// Sender implements scheduler.SlackSender via chat.postMessage.
type Sender struct {
	BotTokens map[string]string // accountId -> bot token
	HTTP      *http.Client
	BaseURL   string // overridable in tests; defaults to slackAPIBase
}

// New constructs a Sender.
func New(botTokens map[string]string) *Sender {
	return &Sender{
		BotTokens: botTokens,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		BaseURL:   slackAPIBase,
	}
}

// Send posts message to channelID (threaded under threadTS if set) using
// the bot token registered for accountID.
func (s *Sender) Send(accountID, channelID, threadTS, message string) error {
	token, ok := s.BotTokens[accountID]
	if !ok || token == "" {
		return fmt.Errorf("slacksender: no bot token configured for account %q", accountID)
	}

	payload := map[string]any{
		"channel": channelID,
		"text":    message,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slacksender: marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.BaseURL+"chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slacksender: build request: %w", err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("slacksender: chat.postMessage request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("slacksender: decoding chat.postMessage response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slacksender: chat.postMessage: %s", result.Error)
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const linePushURL = "https://api.line.me/v2/bot/message/push"

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

// LineNotifier pushes messages through the LINE Messaging API.
type LineNotifier struct {
	token  string
	userID string
	client *http.Client
	url    string
}

func NewLineNotifier(token, userID string, timeout time.Duration) *LineNotifier {
	return &LineNotifier{
		token:  token,
		userID: userID,
		client: &http.Client{Timeout: timeout},
		url:    linePushURL,
	}
}

func (n *LineNotifier) Push(ctx context.Context, message string) error {
	payload := linePushRequest{
		To:       n.userID,
		Messages: []lineMessage{{Type: "text", Text: message}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build line request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line push: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

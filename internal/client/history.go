package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"skillswap-chat/internal/model"
)

// History 通过 REST 拉取历史消息，用于 Timeline.Load
type History struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (h History) client() *http.Client {
	if h.HTTP != nil {
		return h.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (h History) Conversation(ctx context.Context, peerID string, limit int) ([]model.Message, error) {
	return h.fetch(ctx, "/api/chat/conversation/"+url.PathEscape(peerID), limit)
}

func (h History) Group(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	return h.fetch(ctx, "/api/groups/"+url.PathEscape(groupID)+"/messages", limit)
}

func (h History) fetch(ctx context.Context, path string, limit int) ([]model.Message, error) {
	target := fmt.Sprintf("%s%s?limit=%d", h.BaseURL, path, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch history: %s", resp.Status)
	}

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return body.Messages, nil
}

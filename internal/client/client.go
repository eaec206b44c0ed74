// Package client talks to a running storybook server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storybook/internal/model"
)

// Client 调用 /generate-story 和 /generate-image
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New 创建客户端; httpClient 为空时使用 10 分钟超时, 整本绘本生成可能较慢
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: httpClient}
}

// GenerateStory 请求完整绘本
func (c *Client) GenerateStory(ctx context.Context, req model.StoryRequest) (*model.StoryResult, error) {
	var out model.StoryResult
	if err := c.post(ctx, "client.GenerateStory", "/generate-story", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateImage 请求单张插图, 返回 data URI
func (c *Client) GenerateImage(ctx context.Context, prompt, apiKey string) (string, error) {
	body := map[string]string{"prompt": prompt, "apiKey": apiKey}
	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := c.post(ctx, "client.GenerateImage", "/generate-image", body, &out); err != nil {
		return "", err
	}
	if out.ImageURL == "" {
		return "", model.ImageError("client.GenerateImage", "No image generated", nil)
	}
	return out.ImageURL, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, op, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return model.UpstreamError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.UpstreamError(op, err)
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(data, out); err != nil {
			return model.UpstreamError(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	var e errorBody
	_ = json.Unmarshal(data, &e)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.QuotaError(op, errors.New(e.Message))
	case resp.StatusCode == http.StatusBadRequest && e.Error != "":
		return model.ValidationError(e.Error)
	default:
		return model.UpstreamError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
}

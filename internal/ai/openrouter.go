package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider routes through openrouter.ai. SiteURL and AppName are
// sent as the optional attribution headers.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		h.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		h.Set("X-Title", p.AppName)
	}
	return h
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	switch {
	case p.Client == nil:
		return "", errors.New("openrouter: http client is nil")
	case strings.TrimSpace(p.APIKey) == "":
		return "", errors.New("openrouter: api key is required")
	case strings.TrimSpace(p.Model) == "":
		return "", errors.New("openrouter: model is required")
	}

	var out openRouterChatResp
	status, err := postJSON(ctx, p.Client, "openrouter", endpoint(p.BaseURL, "/chat/completions"), p.headers(),
		openRouterChatReq{Model: strings.TrimSpace(p.Model), Messages: messages}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", &RemoteServiceError{Provider: "openrouter", Status: out.Error.Code, Body: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", &RemoteServiceError{Provider: "openrouter", Status: status, Body: "empty response"}
	}
	return out.Choices[0].Message.Content, nil
}

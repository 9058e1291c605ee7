package ai

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// OllamaProvider talks to a local Ollama daemon through /api/chat.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{BaseURL: baseURL, Model: model, Client: &http.Client{Timeout: 90 * time.Second}}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	var out ollamaChatResp
	status, err := postJSON(ctx, p.Client, "ollama", endpoint(p.BaseURL, "/api/chat"), nil,
		ollamaChatReq{Model: p.Model, Messages: messages}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &RemoteServiceError{Provider: "ollama", Status: status, Body: out.Error}
	}
	return out.Message.Content, nil
}

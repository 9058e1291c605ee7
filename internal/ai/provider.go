package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider completes a conversation. Implementations return
// *RemoteServiceError for non-success responses and ErrTimeout when the
// deadline passes.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

var ErrTimeout = errors.New("ai: request timed out")

type RemoteServiceError struct {
	Provider string
	Status   int
	Body     string
}

func (e *RemoteServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var rse *RemoteServiceError
	return errors.Is(err, ErrTimeout) || errors.As(err, &rse)
}

// transportError folds deadline and transport failures into the provider
// error taxonomy.
func transportError(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// connection refused, reset and friends are remote failures without a status
	return &RemoteServiceError{Provider: provider, Body: err.Error()}
}

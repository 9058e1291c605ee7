package conversation

import (
	"time"

	"github.com/suPer8Hu/matchcore/internal/ai"
	"github.com/suPer8Hu/matchcore/internal/cache"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type Turn struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
}

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingReply State = "awaiting_reply"
	StateTerminal      State = "terminal"
)

// Conversation holds the AI dialogue of one user. Turns are strictly time
// ordered; speakers usually alternate but that is not enforced.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Turns     []Turn    `json:"turns"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Conversation) Clone() Conversation {
	c.Turns = append([]Turn(nil), c.Turns...)
	return c
}

func SetKey(c *Conversation, key int64) { c.ID = key }

type Store = cache.Store[Conversation]

// appendTurn adds a turn stamped no earlier than the previous one.
func (c *Conversation) appendTurn(sp Speaker, content string, at time.Time) Turn {
	if n := len(c.Turns); n > 0 && !at.After(c.Turns[n-1].Timestamp) {
		at = c.Turns[n-1].Timestamp.Add(time.Microsecond)
	}
	t := Turn{Content: content, Timestamp: at, Speaker: sp}
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = at
	return t
}

// requestMessages renders the preamble and all turns for the provider.
func requestMessages(preamble string, turns []Turn) []ai.Message {
	out := make([]ai.Message, 0, len(turns)+1)
	if preamble != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: preamble})
	}
	for _, t := range turns {
		role := ai.RoleUser
		if t.Speaker == SpeakerAssistant {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: t.Content})
	}
	return out
}

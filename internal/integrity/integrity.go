// Package integrity repairs cross-references between entity stores. A
// deactivation cascade that was interrupted, or records hydrated from a
// durable store written by an older process, can leave ids pointing at
// records that no longer exist.
package integrity

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/suPer8Hu/matchcore/internal/chatrooms"
	"github.com/suPer8Hu/matchcore/internal/conversation"
	"github.com/suPer8Hu/matchcore/internal/matches"
	"github.com/suPer8Hu/matchcore/internal/metrics"
	"github.com/suPer8Hu/matchcore/internal/users"
)

// Result summarizes one pass. A check that panics is reported in Errors and
// does not count as completed.
type Result struct {
	ChecksCompleted int      `json:"checks_completed"`
	TotalChecks     int      `json:"total_checks"`
	Fixed           int      `json:"fixed"`
	Errors          []string `json:"errors,omitempty"`
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

type Checker struct {
	users         *users.Store
	matches       *matches.Store
	chats         *chatrooms.Store
	conversations *conversation.Store
}

func NewChecker(u *users.Store, m *matches.Store, c *chatrooms.Store, conv *conversation.Store) *Checker {
	return &Checker{users: u, matches: m, chats: c, conversations: conv}
}

type check struct {
	name string
	fn   func() int
}

// Run executes every check in dependency order: orphaned matches go first so
// the reference cleanups after them see the final set.
func (c *Checker) Run(ctx context.Context) Result {
	checks := []check{
		{"orphaned matches", c.orphanedMatches},
		{"orphaned chat sessions", c.orphanedChatSessions},
		{"dangling user match ids", c.danglingUserMatches},
		{"dangling match chat sessions", c.danglingChatSessionRefs},
		{"orphaned conversations", c.orphanedConversations},
	}

	res := Result{TotalChecks: len(checks)}
	for _, ch := range checks {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ch.name, ctx.Err()))
			continue
		}
		n, err := runCheck(ch)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			log.Printf("integrity check=%q failed err=%v", ch.name, err)
			continue
		}
		res.ChecksCompleted++
		res.Fixed += n
	}
	if res.Fixed > 0 {
		metrics.IntegrityFixes.Add(float64(res.Fixed))
		log.Printf("integrity fixed=%d checks=%d/%d", res.Fixed, res.ChecksCompleted, res.TotalChecks)
	}
	return res
}

func runCheck(ch check) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", ch.name, r)
		}
	}()
	return ch.fn(), nil
}

func (c *Checker) userExists(id int64) bool {
	_, ok := c.users.Get(id)
	return ok
}

func (c *Checker) orphanedMatches() int {
	var stale []int64
	c.matches.Range(func(key int64, m matches.Match) bool {
		if !c.userExists(m.UserID1) || !c.userExists(m.UserID2) {
			stale = append(stale, key)
		}
		return true
	})
	n := 0
	for _, key := range stale {
		if c.matches.Delete(key) {
			n++
		}
	}
	return n
}

func (c *Checker) orphanedChatSessions() int {
	var stale []int64
	c.chats.Range(func(key int64, cs chatrooms.ChatSession) bool {
		if _, ok := c.matches.Get(cs.MatchID); !ok {
			stale = append(stale, key)
		}
		return true
	})
	n := 0
	for _, key := range stale {
		if c.chats.Delete(key) {
			n++
		}
	}
	return n
}

func (c *Checker) danglingUserMatches() int {
	var affected []int64
	c.users.Range(func(key int64, u users.User) bool {
		for _, mid := range u.MatchIDs {
			if _, ok := c.matches.Get(mid); !ok {
				affected = append(affected, key)
				break
			}
		}
		return true
	})
	n := 0
	for _, key := range affected {
		c.users.Update(key, func(u *users.User) {
			before := len(u.MatchIDs)
			u.MatchIDs = slices.DeleteFunc(u.MatchIDs, func(mid int64) bool {
				_, ok := c.matches.Get(mid)
				return !ok
			})
			n += before - len(u.MatchIDs)
		})
	}
	return n
}

func (c *Checker) danglingChatSessionRefs() int {
	var affected []int64
	c.matches.Range(func(key int64, m matches.Match) bool {
		if m.ChatSessionID == 0 {
			return true
		}
		if _, ok := c.chats.Get(m.ChatSessionID); !ok {
			affected = append(affected, key)
		}
		return true
	})
	for _, key := range affected {
		c.matches.Update(key, func(m *matches.Match) { m.ChatSessionID = 0 })
	}
	return len(affected)
}

func (c *Checker) orphanedConversations() int {
	if c.conversations == nil {
		return 0
	}
	var stale []int64
	c.conversations.Range(func(key int64, conv conversation.Conversation) bool {
		if !c.userExists(conv.UserID) {
			stale = append(stale, key)
		}
		return true
	})
	n := 0
	for _, key := range stale {
		if c.conversations.Delete(key) {
			n++
		}
	}
	return n
}

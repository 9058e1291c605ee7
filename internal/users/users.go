package users

import (
	"errors"
	"time"

	"github.com/suPer8Hu/matchcore/internal/cache"
)

var (
	ErrNotFound     = errors.New("users: user not found")
	ErrInvalidAge   = errors.New("users: age out of range")
	ErrInvalidInput = errors.New("users: invalid input")
)

type Gender int

const (
	GenderUnknown Gender = 0
	GenderFemale  Gender = 1
	GenderMale    Gender = 2
)

func (g Gender) Valid() bool { return g == GenderFemale || g == GenderMale }

type User struct {
	ID                 int64     `json:"id"`
	TelegramUserName   string    `json:"telegram_user_name"`
	TelegramID         int64     `json:"telegram_id"`
	Gender             Gender    `json:"gender"`
	Age                int       `json:"age"`
	TargetGender       Gender    `json:"target_gender"`
	PersonalitySummary string    `json:"personality_summary"`
	MatchIDs           []int64   `json:"match_ids"`
	BlockedUserIDs     []int64   `json:"blocked_user_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

func (u User) Clone() User {
	u.MatchIDs = append([]int64(nil), u.MatchIDs...)
	u.BlockedUserIDs = append([]int64(nil), u.BlockedUserIDs...)
	return u
}

func SetKey(u *User, key int64) { u.ID = key }

type Store = cache.Store[User]

type Statistics struct {
	Total  int `json:"total"`
	Male   int `json:"male"`
	Female int `json:"female"`
}

// DeactivateReport counts what a deactivation removed or touched.
type DeactivateReport struct {
	Matches      int `json:"matches"`
	ChatSessions int `json:"chat_sessions"`
	UpdatedUsers int `json:"updated_users"`
}

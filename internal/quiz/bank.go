package quiz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed bank.yaml
var defaultBank []byte

type Option struct {
	Option   string `yaml:"option" json:"option"`
	Text     string `yaml:"text" json:"text"`
	Category string `yaml:"category" json:"-"`
}

type Question struct {
	ID      string   `yaml:"id" json:"question_id"`
	Text    string   `yaml:"text" json:"question_text"`
	Options []Option `yaml:"options" json:"options"`
}

// Card describes the outcome shown for one category.
type Card struct {
	ID    string `yaml:"id" json:"card_id"`
	Name  string `yaml:"name" json:"card_name"`
	Title string `yaml:"title" json:"title"`
	Emoji string `yaml:"emoji" json:"emoji"`
}

// Bank is the fixed question set. Categories is the canonical order used to
// break score ties.
type Bank struct {
	Categories []string   `yaml:"categories"`
	Questions  []Question `yaml:"questions"`
	Cards      []Card     `yaml:"cards"`

	index map[string]int
	cards map[string]Card
}

func DefaultBank() *Bank {
	b, err := parseBank(defaultBank)
	if err != nil {
		panic(err)
	}
	return b
}

// LoadBank reads a bank from path. An empty path yields the built-in bank.
func LoadBank(path string) (*Bank, error) {
	if path == "" {
		return parseBank(defaultBank)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz bank: %w", err)
	}
	return parseBank(raw)
}

func parseBank(raw []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse quiz bank: %w", err)
	}
	if len(b.Questions) == 0 || len(b.Categories) == 0 {
		return nil, fmt.Errorf("quiz bank: no questions or categories")
	}

	known := make(map[string]bool, len(b.Categories))
	for _, c := range b.Categories {
		known[c] = true
	}
	b.index = make(map[string]int, len(b.Questions))
	for i, q := range b.Questions {
		if _, dup := b.index[q.ID]; dup {
			return nil, fmt.Errorf("quiz bank: duplicate question %s", q.ID)
		}
		for _, o := range q.Options {
			if !known[o.Category] {
				return nil, fmt.Errorf("quiz bank: question %s option %s has unknown category %q", q.ID, o.Option, o.Category)
			}
		}
		b.index[q.ID] = i
	}
	b.cards = make(map[string]Card, len(b.Cards))
	for _, c := range b.Cards {
		b.cards[c.ID] = c
	}
	return &b, nil
}

func (b *Bank) Total() int { return len(b.Questions) }

// Question returns the i-th question, zero based.
func (b *Bank) Question(i int) (Question, bool) {
	if i < 0 || i >= len(b.Questions) {
		return Question{}, false
	}
	return b.Questions[i], true
}

func (b *Bank) Card(category string) (Card, bool) {
	c, ok := b.cards[category]
	return c, ok
}

// category maps an option letter of question q to its category.
func (q Question) category(option string) (string, bool) {
	option = strings.ToUpper(strings.TrimSpace(option))
	for _, o := range q.Options {
		if o.Option == option {
			return o.Category, true
		}
	}
	return "", false
}

// Resolve picks the category with the highest tally. Ties go to the category
// listed first in order.
func Resolve(scores map[string]int, order []string) string {
	best, bestScore := "", -1
	for _, c := range order {
		if n := scores[c]; n > bestScore {
			best, bestScore = c, n
		}
	}
	return best
}

package conversation

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

//go:embed prompts.yaml
var defaultPrompts []byte

// Rules is the data-driven vocabulary used to classify and partition replies.
type Rules struct {
	CompletionMarkers []string `yaml:"completion_markers"`
	QuestionHeaders   []string `yaml:"question_headers"`
	FallbackReply     string   `yaml:"fallback_reply"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	r, err := parseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("conversation: embedded rules: %v", err))
	}
	return r
}

// LoadRules reads rules from path, or returns the built-in set when path is
// empty. Missing sections fall back to the built-in ones.
func LoadRules(path string) (*Rules, error) {
	def := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return def, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	r, err := parseRules(b)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if len(r.CompletionMarkers) == 0 {
		r.CompletionMarkers = def.CompletionMarkers
	}
	if len(r.QuestionHeaders) == 0 {
		r.QuestionHeaders = def.QuestionHeaders
	}
	if r.FallbackReply == "" {
		r.FallbackReply = def.FallbackReply
	}
	return r, nil
}

func parseRules(b []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	r.CompletionMarkers = normalize(r.CompletionMarkers)
	r.QuestionHeaders = normalize(r.QuestionHeaders)
	r.FallbackReply = strings.TrimSpace(r.FallbackReply)
	return &r, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

type Verdict int

const (
	Continue Verdict = iota
	Final
)

func (v Verdict) String() string {
	if v == Final {
		return "final"
	}
	return "continue"
}

// Classify reports Final when reply contains any completion marker.
func (r *Rules) Classify(reply string) Verdict {
	lower := strings.ToLower(reply)
	for _, m := range r.CompletionMarkers {
		if strings.Contains(lower, m) {
			return Final
		}
	}
	return Continue
}

var delimiterLine = regexp.MustCompile(`(?m)^[ \t]*\*\*\*[ \t]*\r?$`)

// Split partitions a final reply into its profile and questions parts. A
// line holding only *** wins; otherwise the earliest question header starts
// the questions part; otherwise the whole reply is the profile.
func (r *Rules) Split(reply string) (profile, questions string) {
	if loc := delimiterLine.FindStringIndex(reply); loc != nil {
		return strings.TrimSpace(reply[:loc[0]]), strings.TrimSpace(reply[loc[1]:])
	}

	if at := r.firstHeader(reply); at >= 0 {
		return strings.TrimSpace(reply[:at]), strings.TrimSpace(reply[at:])
	}
	return strings.TrimSpace(reply), ""
}

// firstHeader returns the byte offset of the earliest header occurrence.
func (r *Rules) firstHeader(reply string) int {
	lower := strings.ToLower(reply)
	best := -1
	for _, h := range r.QuestionHeaders {
		i := strings.Index(lower, h)
		if i < 0 {
			continue
		}
		// lowering can change byte lengths for some scripts
		if len(lower) != len(reply) {
			i = indexFold(reply, h)
			if i < 0 {
				continue
			}
		}
		if best < 0 || i < best {
			best = i
		}
	}
	return best
}

func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// Prompts holds the system preamble and per-gender addenda.
type Prompts struct {
	Core    string            `yaml:"core"`
	Genders map[string]string `yaml:"genders"`
}

// LoadPrompts returns the built-in prompts, with the core replaced by the
// content of corePath when it is set.
func LoadPrompts(corePath string) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(defaultPrompts, &p); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if strings.TrimSpace(corePath) != "" {
		b, err := os.ReadFile(corePath)
		if err != nil {
			return nil, fmt.Errorf("read system prompt %s: %w", corePath, err)
		}
		p.Core = string(b)
	}
	p.Core = strings.TrimSpace(p.Core)
	return &p, nil
}

// Preamble combines the core prompt with the addendum for gender. Unknown
// genders use the neutral addendum.
func (p *Prompts) Preamble(gender string) string {
	add, ok := p.Genders[strings.ToLower(gender)]
	if !ok {
		add = p.Genders["neutral"]
	}
	add = strings.TrimSpace(add)
	if add == "" {
		return p.Core
	}
	return p.Core + "\n\n" + add
}

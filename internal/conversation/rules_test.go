package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	r := DefaultRules()
	cases := []struct {
		name      string
		in        string
		profile   string
		questions string
	}{
		{
			name:      "delimiter line",
			in:        "Profile text\n***\nQuestion list",
			profile:   "Profile text",
			questions: "Question list",
		},
		{
			name:      "delimiter with surrounding blanks",
			in:        "Profile text\n\n  ***  \n\nQuestion list\n",
			profile:   "Profile text",
			questions: "Question list",
		},
		{
			name:      "delimiter wins over header",
			in:        "Intro. Filter questions: early\n***\nrest",
			profile:   "Intro. Filter questions: early",
			questions: "rest",
		},
		{
			name:      "header mid text",
			in:        "You value honesty.\nFilter questions:\n1. What makes you laugh?",
			profile:   "You value honesty.",
			questions: "Filter questions:\n1. What makes you laugh?",
		},
		{
			name:      "header case insensitive mid line",
			in:        "Calm and kind. FILTER QUESTIONS: ask about weekends",
			profile:   "Calm and kind.",
			questions: "FILTER QUESTIONS: ask about weekends",
		},
		{
			name:      "earliest header wins",
			in:        "Profile. Suggested questions: a. Filter questions: b.",
			profile:   "Profile.",
			questions: "Suggested questions: a. Filter questions: b.",
		},
		{
			name:      "localized header",
			in:        "画像内容\n筛选问题：你喜欢旅行吗？",
			profile:   "画像内容",
			questions: "筛选问题：你喜欢旅行吗？",
		},
		{
			name:      "no delimiter no header",
			in:        "Just a profile with **bold** text.",
			profile:   "Just a profile with **bold** text.",
			questions: "",
		},
		{
			name:      "inline stars are not a delimiter",
			in:        "Rating: *** stars",
			profile:   "Rating: *** stars",
			questions: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, q := r.Split(tc.in)
			assert.Equal(t, tc.profile, p)
			assert.Equal(t, tc.questions, q)
		})
	}
}

func TestClassify(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, Final, r.Classify("Here is YOUR IDEAL PARTNER PROFILE: ..."))
	assert.Equal(t, Final, r.Classify("that's all #END"))
	assert.Equal(t, Final, r.Classify("这是对话总结"))
	assert.Equal(t, Final, r.Classify("Summary\nYou value honesty and humour.\n"))
	assert.Equal(t, r.Classify("总结\n你重视诚实。"), r.Classify("Summary\nYou value honesty."))
	assert.Equal(t, Continue, r.Classify("What do you enjoy doing on Sundays?"))
	assert.Equal(t, "final", Final.String())
}

func TestLoadRules_OverrideKeepsMissingSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("completion_markers:\n  - \"  The End \"\n"), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"the end"}, r.CompletionMarkers)
	assert.Equal(t, DefaultRules().QuestionHeaders, r.QuestionHeaders)
	assert.NotEmpty(t, r.FallbackReply)

	assert.Equal(t, Final, r.Classify("and that is THE END."))
	assert.Equal(t, Continue, r.Classify("#end"))

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPrompts_Preamble(t *testing.T) {
	p, err := LoadPrompts("")
	require.NoError(t, err)
	assert.Contains(t, p.Preamble("male"), p.Core)
	assert.Contains(t, p.Preamble("male"), "The user is a man")
	assert.Equal(t, p.Preamble("neutral"), p.Preamble("unknown"))
}

package envelope

import (
	"strings"
	"testing"
)

func TestBuildDeterministicID(t *testing.T) {
	meta := Meta{ModelID: "model-a", PromptDigest: "digest-1"}

	a := Build("I should mine coal", meta)
	b := Build("I should mine coal", meta)

	if a.ID != b.ID {
		t.Errorf("identical inputs produced different IDs: %q vs %q", a.ID, b.ID)
	}
	if RequestHash(a) != RequestHash(b) {
		t.Error("identical envelopes produced different request hashes")
	}
}

func TestBuildIDVariesWithInput(t *testing.T) {
	base := Build("I should mine coal", Meta{ModelID: "model-a"})

	tests := []struct {
		name string
		raw  string
		meta Meta
	}{
		{"different text", "I should mine iron", Meta{ModelID: "model-a"}},
		{"different model", "I should mine coal", Meta{ModelID: "model-b"}},
		{"different digest", "I should mine coal", Meta{ModelID: "model-a", PromptDigest: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.raw, tt.meta)
			if got.ID == base.ID {
				t.Errorf("expected different ID for %s", tt.name)
			}
		})
	}
}

func TestSanitizeStripsControlOnly(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf normalized", "line one\r\nline two", "line one\nline two"},
		{"bell stripped", "ding\x07dong", "dingdong"},
		{"escape stripped", "\x1b[31mred\x1b[0m", "[31mred[0m"},
		{"tab and newline kept", "a\tb\nc", "a\tb\nc"},
		{"semantic content untouched", "goal: mine(coal, 5)", "goal: mine(coal, 5)"},
		{"unicode preserved", "挖煤 ⛏", "挖煤 ⛏"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.in, Meta{})
			if got.Text != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got.Text, tt.want)
			}
		})
	}
}

func TestOutputHashNilVsEmpty(t *testing.T) {
	empty := ""
	if OutputHash(nil) == OutputHash(&empty) {
		t.Error("missing output and empty output must hash differently")
	}
}

func TestOutputHashDeterministic(t *testing.T) {
	s := "found 3 oak logs"
	if OutputHash(&s) != OutputHash(&s) {
		t.Error("output hash not deterministic")
	}
	other := "found 4 oak logs"
	if OutputHash(&s) == OutputHash(&other) {
		t.Error("different outputs must hash differently")
	}
}

func TestEnvelopeIDShape(t *testing.T) {
	env := Build("hello", Meta{})
	if !strings.HasPrefix(env.ID, "env-") {
		t.Errorf("ID %q missing env- prefix", env.ID)
	}
	if len(env.ID) != len("env-")+16 {
		t.Errorf("ID %q has unexpected length", env.ID)
	}
}

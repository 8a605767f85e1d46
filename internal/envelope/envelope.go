// Package envelope canonicalizes raw model output into a content-addressed
// request envelope for semantic reduction. It performs no semantic
// interpretation: goal-like substrings, commands, and entity names pass
// through untouched. Deciding what the text MEANS is the reducer's job.
package envelope

import (
	"strings"
	"time"
	"unicode"
)

// Meta carries the stable provenance fields hashed into the envelope ID.
// Both fields are optional.
type Meta struct {
	// ModelID identifies the model that produced the raw text.
	ModelID string
	// PromptDigest is a digest of the prompt that elicited the output.
	PromptDigest string
}

// Envelope is the canonical, immutable representation of one piece of model
// output. Build it once and pass it by value; nothing mutates it afterwards.
type Envelope struct {
	// ID is derived from the sanitized text and stable metadata.
	// Identical text + identical metadata always yields the same ID.
	ID string

	// Text is the sanitized model output.
	Text string

	ModelID      string
	PromptDigest string

	// CreatedAt is wall-clock provenance only. It is excluded from the ID
	// so that replayed requests hash identically.
	CreatedAt time.Time
}

// Build constructs an envelope from raw model output. Pure and total: it
// never fails and never blocks. Only control characters are normalized;
// semantic content is preserved verbatim.
func Build(raw string, meta Meta) Envelope {
	text := sanitize(raw)
	return Envelope{
		ID:           envelopeID(text, meta),
		Text:         text,
		ModelID:      meta.ModelID,
		PromptDigest: meta.PromptDigest,
		CreatedAt:    time.Now().UTC(),
	}
}

// sanitize normalizes line endings and strips control characters other than
// newline and tab. It deliberately does NOT trim, lowercase, or rewrite any
// semantic content.
func sanitize(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

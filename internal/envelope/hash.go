package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Hashing is always SHA-256 over an RFC 8785 (JCS) canonicalization of an
// explicitly constructed field set. Runtime map ordering never reaches the
// hash input.

// envelopeIDPayload fixes the field set that participates in the envelope ID.
// CreatedAt is deliberately absent.
type envelopeIDPayload struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	PromptDigest string `json:"prompt_digest"`
}

// envelopeID derives the content address for a sanitized text + metadata pair.
func envelopeID(text string, meta Meta) string {
	sum := canonicalSum(envelopeIDPayload{
		Text:         text,
		ModelID:      meta.ModelID,
		PromptDigest: meta.PromptDigest,
	})
	return "env-" + sum[:16]
}

// RequestHash returns the full hash of the canonical envelope, used as the
// provenance key for a reduction round trip.
func RequestHash(env Envelope) string {
	return canonicalSum(envelopeIDPayload{
		Text:         env.Text,
		ModelID:      env.ModelID,
		PromptDigest: env.PromptDigest,
	})
}

// outputPayload tags the payload kind before hashing so that an absent output
// and an empty-string output can never collide.
type outputPayload struct {
	Kind string `json:"kind"` // "text" or "missing"
	Text string `json:"text,omitempty"`
}

// OutputHash hashes a possibly-absent output. nil means "no output was
// produced", which hashes differently from the empty string.
func OutputHash(text *string) string {
	if text == nil {
		return canonicalSum(outputPayload{Kind: "missing"})
	}
	return canonicalSum(outputPayload{Kind: "text", Text: *text})
}

func canonicalSum(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Marshal of a plain struct of strings cannot fail; keep the
		// function total regardless.
		raw = []byte(fmt.Sprintf("%#v", v))
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		canon = raw
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

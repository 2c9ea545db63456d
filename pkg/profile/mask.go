package profile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Masking primitives. All pure functions; nothing here ever emits a source
// value.

func MaskString(s string) string {
	return fmt.Sprintf("[string len=%d]", len([]rune(s)))
}

func MaskDate(string) string {
	return "[date]"
}

func MaskFreeText(s string) string {
	return fmt.Sprintf("[text redacted len=%d]", len([]rune(s)))
}

// Masker produces deterministic identifier digests keyed per run, so the
// same source id always masks to the same token within a run (preserving
// cross-entity joins in the masked view) while being infeasible to invert
// without the key.
type Masker struct {
	key []byte
}

func NewMasker(key []byte) *Masker {
	return &Masker{key: key}
}

// Identifier returns a 16-character hex digest of the input.
func (m *Masker) Identifier(s string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

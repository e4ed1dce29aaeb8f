package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptySecret is returned when the verifier is built without a secret
var ErrEmptySecret = errors.New("webhook: signing secret is empty")

const signaturePrefix = "sha256="

// Verifier authenticates notification bodies with HMAC-SHA256
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the process-wide signing secret
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify reports whether signature is a valid MAC of the exact raw body.
// Lowercase hex (optionally "sha256=" prefixed) and base64 encodings are
// accepted.
func (v *Verifier) Verify(body []byte, signature string) bool {
	provided, ok := decodeSignature(signature)
	if !ok {
		return false
	}
	return hmac.Equal(provided, v.mac(body))
}

// Sign returns the hex signature the sender is expected to attach
func (v *Verifier) Sign(body []byte) string {
	return signaturePrefix + hex.EncodeToString(v.mac(body))
}

func (v *Verifier) mac(body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	_, _ = m.Write(body)
	return m.Sum(nil)
}

// decodeSignature accepts only canonical encodings, so no altered header
// value can decode to the same MAC.
func decodeSignature(signature string) ([]byte, bool) {
	sig := strings.TrimPrefix(signature, signaturePrefix)
	if sig == "" {
		return nil, false
	}

	if len(sig) == hex.EncodedLen(sha256.Size) {
		if b, err := hex.DecodeString(sig); err == nil && hex.EncodeToString(b) == sig {
			return b, true
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.Strict().DecodeString(sig)
		if err == nil && len(b) == sha256.Size && enc.EncodeToString(b) == sig {
			return b, true
		}
	}
	return nil, false
}

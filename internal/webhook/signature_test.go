package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

const testSecret = "whsec_test_0123456789abcdef"

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return v
}

func rawMAC(body []byte) []byte {
	m := hmac.New(sha256.New, []byte(testSecret))
	m.Write(body)
	return m.Sum(nil)
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier(""); err != ErrEmptySecret {
		t.Errorf("Expected ErrEmptySecret, got %v", err)
	}
}

func TestVerify_AcceptsEncodings(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"_type":"post","_id":"X1","author":{"_ref":"A1"}}`)
	mac := rawMAC(body)

	tests := []struct {
		name      string
		signature string
	}{
		{"signed helper", v.Sign(body)},
		{"bare hex", hex.EncodeToString(mac)},
		{"prefixed hex", "sha256=" + hex.EncodeToString(mac)},
		{"std base64", base64.StdEncoding.EncodeToString(mac)},
		{"url base64", base64.URLEncoding.EncodeToString(mac)},
		{"raw url base64", base64.RawURLEncoding.EncodeToString(mac)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !v.Verify(body, tt.signature) {
				t.Errorf("Expected signature %q to verify", tt.signature)
			}
		})
	}
}

func TestVerify_RejectsMissingOrMalformed(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"_type":"post"}`)

	for _, sig := range []string{
		"",
		"sha256=",
		"not-a-signature",
		hex.EncodeToString(rawMAC(body))[:40],
		"sha256=" + hex.EncodeToString(rawMAC([]byte("other body"))),
	} {
		if v.Verify(body, sig) {
			t.Errorf("Expected signature %q to be rejected", sig)
		}
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"_type":"author","_id":"A1","status":"approved"}`)
	other, _ := NewVerifier("a-completely-different-secret")

	v := newTestVerifier(t)
	if v.Verify(body, other.Sign(body)) {
		t.Error("Signature made with another secret must be rejected")
	}
}

func TestVerify_RejectsEveryBodyMutation(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"kind":"ContentEntity","op":"Upsert","externalId":"X1","authorExternalId":"A1"}`)
	sig := v.Sign(body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		if v.Verify(mutated, sig) {
			t.Fatalf("Mutation of body byte %d was accepted", i)
		}
	}
}

func TestVerify_RejectsEverySignatureMutation(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"kind":"Author","op":"StatusChange","status":"approved","externalId":"A1"}`)

	signatures := []string{
		v.Sign(body),
		hex.EncodeToString(rawMAC(body)),
		base64.StdEncoding.EncodeToString(rawMAC(body)),
	}

	for _, sig := range signatures {
		for i := 0; i < len(sig); i++ {
			for _, flip := range []byte{0x01, 0x20} {
				mutated := []byte(sig)
				mutated[i] ^= flip
				if v.Verify(body, string(mutated)) {
					t.Fatalf("Mutation %#x of signature %q at byte %d was accepted", flip, sig, i)
				}
			}
		}
	}
}

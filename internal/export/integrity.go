// Package export serves tamper-evident batches of security events to SIEM
// consumers: canonical JSON, integrity envelopes, signed cursor tokens, and
// per-consumer checkpoints.
package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Signature algorithms stamped on envelopes.
const (
	AlgorithmHMACSHA256 = "HMAC-SHA256"
	AlgorithmNone       = "NONE"
)

// ErrIntegrityMismatch reports a failed envelope verification.
var ErrIntegrityMismatch = errors.New("integrity verification failed")

// Envelope attests to a payload: always a content hash, plus an HMAC
// signature when a signing key is configured. Unsigned envelopes detect
// accidental corruption; signed ones also detect deliberate tampering by
// anyone without the key.
type Envelope struct {
	ContentSHA256      string `json:"content_sha256"`
	Signature          string `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signature_algorithm"`
	Signed             bool   `json:"signed"`
	KeyID              string `json:"key_id,omitempty"`
}

// IntegrityCodec seals payloads into envelopes and verifies them.
type IntegrityCodec struct {
	key   []byte
	keyID string
}

// NewIntegrityCodec constructs a codec. An empty key produces hash-only
// envelopes.
func NewIntegrityCodec(key, keyID string) *IntegrityCodec {
	c := &IntegrityCodec{keyID: keyID}
	if key != "" {
		c.key = []byte(key)
	}
	return c
}

// CanonicalJSON renders v deterministically: object keys sorted, no
// insignificant whitespace. Two semantically equal payloads always produce
// identical bytes, which is what makes hashes and signatures comparable
// across producers.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// Round-trip through the generic representation: encoding/json emits
	// map keys in sorted order, which normalizes struct field order too.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("render canonical payload: %w", err)
	}
	return canonical, nil
}

// Seal canonicalizes v and returns the canonical bytes with their envelope.
func (c *IntegrityCodec) Seal(v any) ([]byte, *Envelope, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return nil, nil, err
	}

	digest := sha256.Sum256(canonical)
	env := &Envelope{
		ContentSHA256:      hex.EncodeToString(digest[:]),
		SignatureAlgorithm: AlgorithmNone,
	}
	if len(c.key) > 0 {
		env.Signature = hex.EncodeToString(c.sign(canonical))
		env.SignatureAlgorithm = AlgorithmHMACSHA256
		env.Signed = true
		env.KeyID = c.keyID
	}
	return canonical, env, nil
}

// Verify checks canonical payload bytes against their envelope using
// constant-time comparison. A signed envelope presented to a codec without
// the key fails rather than degrading to hash-only.
func (c *IntegrityCodec) Verify(canonical []byte, env *Envelope) error {
	digest := sha256.Sum256(canonical)
	expected := hex.EncodeToString(digest[:])
	if !hmac.Equal([]byte(expected), []byte(env.ContentSHA256)) {
		return fmt.Errorf("content hash mismatch: %w", ErrIntegrityMismatch)
	}

	if !env.Signed {
		return nil
	}
	if len(c.key) == 0 {
		return fmt.Errorf("no signing key to verify signature: %w", ErrIntegrityMismatch)
	}
	want := hex.EncodeToString(c.sign(canonical))
	if !hmac.Equal([]byte(want), []byte(env.Signature)) {
		return fmt.Errorf("signature mismatch: %w", ErrIntegrityMismatch)
	}
	return nil
}

func (c *IntegrityCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

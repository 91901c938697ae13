package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"vigil/internal/audit"
)

// ErrCursorTokenInvalid reports a cursor token that failed decoding or
// signature verification. Invalid tokens are rejected outright, never
// coerced to a best-guess position: a silently reset cursor would replay or
// skip events without the consumer noticing.
var ErrCursorTokenInvalid = errors.New("invalid cursor token")

// cursorToken is the wire shape inside the base64 wrapper.
type cursorToken struct {
	Cursor    audit.Cursor `json:"cursor"`
	Signature string       `json:"sig"`
}

// CursorCodec signs and verifies opaque pagination tokens so clients cannot
// forge positions in the event stream.
type CursorCodec struct {
	key []byte
}

// NewCursorCodec constructs a codec. The key is required: cursor tokens are
// always signed even when export envelopes are not.
func NewCursorCodec(key string) (*CursorCodec, error) {
	if key == "" {
		return nil, errors.New("cursor signing key is required")
	}
	return &CursorCodec{key: []byte(key)}, nil
}

// Encode renders a cursor as an opaque base64url token.
func (c *CursorCodec) Encode(cursor audit.Cursor) (string, error) {
	canonical, err := CanonicalJSON(cursor)
	if err != nil {
		return "", err
	}
	token := cursorToken{
		Cursor:    cursor,
		Signature: hex.EncodeToString(c.sign(canonical)),
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode cursor token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode verifies and unpacks a token produced by Encode.
func (c *CursorCodec) Decode(encoded string) (audit.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return audit.Cursor{}, fmt.Errorf("%w: bad encoding", ErrCursorTokenInvalid)
	}
	var token cursorToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return audit.Cursor{}, fmt.Errorf("%w: bad payload", ErrCursorTokenInvalid)
	}

	canonical, err := CanonicalJSON(token.Cursor)
	if err != nil {
		return audit.Cursor{}, fmt.Errorf("%w: bad cursor", ErrCursorTokenInvalid)
	}
	want := hex.EncodeToString(c.sign(canonical))
	if !hmac.Equal([]byte(want), []byte(token.Signature)) {
		return audit.Cursor{}, fmt.Errorf("%w: signature mismatch", ErrCursorTokenInvalid)
	}
	return token.Cursor, nil
}

func (c *CursorCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

package export

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type IntegritySuite struct {
	suite.Suite
	signed   *IntegrityCodec
	unsigned *IntegrityCodec
}

func TestIntegritySuite(t *testing.T) {
	suite.Run(t, new(IntegritySuite))
}

func (s *IntegritySuite) SetupTest() {
	s.signed = NewIntegrityCodec("export-signing-key", "key-1")
	s.unsigned = NewIntegrityCodec("", "")
}

func (s *IntegritySuite) TestCanonicalJSONIsDeterministic() {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": 1, "y": 2}})
	s.Require().NoError(err)
	b, err := CanonicalJSON(map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 1, "b": 2})
	s.Require().NoError(err)
	s.Equal(string(a), string(b))
	s.Equal(`{"a":1,"b":2,"c":{"y":2,"z":1}}`, string(a))
}

func (s *IntegritySuite) TestSealVerifyRoundTrip() {
	payload := map[string]any{"events": []any{map[string]any{"id": 1}}}

	canonical, env, err := s.signed.Seal(payload)
	s.Require().NoError(err)
	s.True(env.Signed)
	s.Equal(AlgorithmHMACSHA256, env.SignatureAlgorithm)
	s.Equal("key-1", env.KeyID)
	s.NotEmpty(env.Signature)

	s.NoError(s.signed.Verify(canonical, env))
}

func (s *IntegritySuite) TestUnsignedModeHashOnly() {
	canonical, env, err := s.unsigned.Seal(map[string]any{"id": 1})
	s.Require().NoError(err)
	s.False(env.Signed)
	s.Equal(AlgorithmNone, env.SignatureAlgorithm)
	s.Empty(env.Signature)
	s.NotEmpty(env.ContentSHA256)

	s.NoError(s.unsigned.Verify(canonical, env))
}

func (s *IntegritySuite) TestTamperedPayloadFails() {
	_, env, err := s.signed.Seal(map[string]any{"amount": 100})
	s.Require().NoError(err)

	tampered := []byte(`{"amount":999}`)
	s.ErrorIs(s.signed.Verify(tampered, env), ErrIntegrityMismatch)
}

func (s *IntegritySuite) TestFieldChangeChangesHash() {
	_, env1, err := s.signed.Seal(map[string]any{"actor": "alice"})
	s.Require().NoError(err)
	_, env2, err := s.signed.Seal(map[string]any{"actor": "bob"})
	s.Require().NoError(err)
	s.NotEqual(env1.ContentSHA256, env2.ContentSHA256)
	s.NotEqual(env1.Signature, env2.Signature)
}

func (s *IntegritySuite) TestSignedEnvelopeNeedsKeyToVerify() {
	canonical, env, err := s.signed.Seal(map[string]any{"id": 1})
	s.Require().NoError(err)

	s.ErrorIs(s.unsigned.Verify(canonical, env), ErrIntegrityMismatch)
}

func (s *IntegritySuite) TestWrongKeyFails() {
	canonical, env, err := s.signed.Seal(map[string]any{"id": 1})
	s.Require().NoError(err)

	other := NewIntegrityCodec("different-key", "key-2")
	s.ErrorIs(other.Verify(canonical, env), ErrIntegrityMismatch)
}

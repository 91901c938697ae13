package audit

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type RedactorSuite struct {
	suite.Suite
	redactor *Redactor
}

func TestRedactorSuite(t *testing.T) {
	suite.Run(t, new(RedactorSuite))
}

func (s *RedactorSuite) SetupTest() {
	s.redactor = NewRedactor()
}

func (s *RedactorSuite) TestRedactsSensitiveKeys() {
	out := s.redactor.Redact(map[string]any{
		"password": "hunter2",
		"Token":    "abc",
		"reason":   "invalid_credentials",
	})
	s.Equal(RedactionMarker, out["password"])
	s.Equal(RedactionMarker, out["Token"])
	s.Equal("invalid_credentials", out["reason"])
}

func (s *RedactorSuite) TestRedactsBySuffix() {
	out := s.redactor.Redact(map[string]any{
		"refresh_token":  "abc",
		"webhook_secret": "def",
		"token_count":    3,
	})
	s.Equal(RedactionMarker, out["refresh_token"])
	s.Equal(RedactionMarker, out["webhook_secret"])
	s.Equal(3, out["token_count"])
}

func (s *RedactorSuite) TestWalksNestedStructure() {
	out := s.redactor.Redact(map[string]any{
		"request": map[string]any{
			"authorization": "Bearer abc",
			"path":          "/auth/login",
		},
		"attempts": []any{
			map[string]any{"password": "x", "ip": "10.0.0.1"},
		},
	})
	nested := out["request"].(map[string]any)
	s.Equal(RedactionMarker, nested["authorization"])
	s.Equal("/auth/login", nested["path"])

	attempt := out["attempts"].([]any)[0].(map[string]any)
	s.Equal(RedactionMarker, attempt["password"])
	s.Equal("10.0.0.1", attempt["ip"])
}

func (s *RedactorSuite) TestDoesNotMutateInput() {
	in := map[string]any{
		"secret": "abc",
		"nested": map[string]any{"api_key": "def"},
	}
	_ = s.redactor.Redact(in)
	s.Equal("abc", in["secret"])
	s.Equal("def", in["nested"].(map[string]any)["api_key"])
}

func (s *RedactorSuite) TestExtraKeys() {
	redactor := NewRedactor("session_fingerprint")
	out := redactor.Redact(map[string]any{"Session_Fingerprint": "xyz"})
	s.Equal(RedactionMarker, out["Session_Fingerprint"])
}

func (s *RedactorSuite) TestNilDetails() {
	s.Nil(s.redactor.Redact(nil))
}

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/pkg/requestcontext"
)

const chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type RecorderSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *InMemoryStore
	recorder *Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = NewInMemoryStore()

	recorder, err := NewRecorder(s.store)
	s.Require().NoError(err)
	s.recorder = recorder
}

func (s *RecorderSuite) TestRecordCanonicalizesAndStamps() {
	ctx := requestcontext.WithClientMetadata(s.ctx, "10.1.2.3", "")

	stored, err := s.recorder.Record(ctx, Entry{
		EventType: "login_failed",
		Actor:     "alice",
		Success:   false,
	})
	s.Require().NoError(err)
	s.Equal(ActionLoginFailed, stored.Action)
	s.Equal("alice", stored.Actor)
	s.Equal("10.1.2.3", stored.IP)
	s.Equal(s.now, stored.Timestamp)
	s.False(stored.Success)
	s.NotZero(stored.ID)
}

func (s *RecorderSuite) TestRecordRedactsDetails() {
	stored, err := s.recorder.Record(s.ctx, Entry{
		EventType: ActionTokenRejected,
		Details: map[string]any{
			"refresh_token": "secret-value",
			"reason":        "expired",
		},
	})
	s.Require().NoError(err)
	s.Equal(RedactionMarker, stored.Details["refresh_token"])
	s.Equal("expired", stored.Details["reason"])
}

func (s *RecorderSuite) TestRecordFoldsError() {
	stored, err := s.recorder.Record(s.ctx, Entry{
		EventType: ActionRefreshFailed,
		Err:       errors.New("signature mismatch"),
	})
	s.Require().NoError(err)
	s.Equal("signature mismatch", stored.Details["error"])
}

func (s *RecorderSuite) TestRecordParsesUserAgent() {
	ctx := requestcontext.WithClientMetadata(s.ctx, "10.1.2.3", chromeUA)

	stored, err := s.recorder.Record(ctx, Entry{EventType: ActionLoginSuccess, Success: true})
	s.Require().NoError(err)
	s.Equal(chromeUA, stored.UserAgent)

	client, ok := stored.Details["client"].(map[string]any)
	s.Require().True(ok)
	s.Equal("Chrome", client["browser"])
	s.Equal(false, client["bot"])
}

func (s *RecorderSuite) TestRecordReturnsAppendFailure() {
	recorder, err := NewRecorder(failingStore{})
	s.Require().NoError(err)

	_, err = recorder.Record(s.ctx, Entry{EventType: ActionLoginFailed})
	s.Error(err)
}

type failingStore struct{ Store }

func (failingStore) Append(context.Context, Event) (Event, error) {
	return Event{}, errors.New("disk full")
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	base  time.Time
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) append(ts time.Time, action string) Event {
	stored, err := s.store.Append(s.ctx, Event{Timestamp: ts, Action: action, Success: true})
	s.Require().NoError(err)
	return stored
}

func (s *InMemoryStoreSuite) TestAppendAssignsMonotonicIDs() {
	first := s.append(s.base, ActionLoginFailed)
	second := s.append(s.base, ActionLoginFailed)
	s.Less(first.ID, second.ID)
}

func (s *InMemoryStoreSuite) TestListAfterIsStrictlyAfter() {
	e := s.append(s.base, ActionLoginFailed)

	// A cursor at the event's exact position excludes it.
	out, err := s.store.ListAfter(s.ctx, Cursor{Since: e.Timestamp, AfterID: e.ID}, 10)
	s.Require().NoError(err)
	s.Empty(out)

	// A cursor just before includes it.
	out, err = s.store.ListAfter(s.ctx, Cursor{Since: e.Timestamp, AfterID: e.ID - 1}, 10)
	s.Require().NoError(err)
	s.Len(out, 1)
}

// Five events sharing one timestamp must page through without loss or
// duplication; timestamp-only pagination would fail this.
func (s *InMemoryStoreSuite) TestPaginationThroughTimestampTies() {
	for range 5 {
		s.append(s.base, ActionLoginFailed)
	}

	var seen []int64
	cursor := Cursor{Since: s.base.Add(-time.Second)}
	for {
		page, err := s.store.ListAfter(s.ctx, cursor, 2)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		last := page[len(page)-1]
		cursor = Cursor{Since: last.Timestamp, AfterID: last.ID}
	}

	s.Len(seen, 5)
	for i := 1; i < len(seen); i++ {
		s.Less(seen[i-1], seen[i])
	}
}

func (s *InMemoryStoreSuite) TestListAfterRejectsNonPositiveLimit() {
	_, err := s.store.ListAfter(s.ctx, Cursor{}, 0)
	s.Error(err)
}

func (s *InMemoryStoreSuite) TestListAfterSkipsForeignActions() {
	s.append(s.base, ActionLoginFailed)
	_, err := s.store.Append(s.ctx, Event{Timestamp: s.base, Action: "AUDIT_CONFIG_CHANGED"})
	s.Require().NoError(err)

	out, err := s.store.ListAfter(s.ctx, Cursor{Since: s.base.Add(-time.Second)}, 10)
	s.Require().NoError(err)
	s.Len(out, 1)
	s.Equal(ActionLoginFailed, out[0].Action)
}

func (s *InMemoryStoreSuite) TestCountByActionSince() {
	s.append(s.base.Add(-2*time.Hour), ActionLoginFailed)
	s.append(s.base, ActionLoginFailed)
	s.append(s.base, ActionLoginFailed)
	s.append(s.base, ActionAccountLocked)

	totals, err := s.store.CountByActionSince(s.ctx, s.base.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal(2, totals[ActionLoginFailed])
	s.Equal(1, totals[ActionAccountLocked])
}

func (s *InMemoryStoreSuite) TestLatestByActionResource() {
	_, err := s.store.Append(s.ctx, Event{
		Timestamp: s.base, Action: ActionExportCheckpoint, Resource: "siem-a",
		Details: map[string]any{"after_id": int64(1)},
	})
	s.Require().NoError(err)
	_, err = s.store.Append(s.ctx, Event{
		Timestamp: s.base.Add(time.Minute), Action: ActionExportCheckpoint, Resource: "siem-a",
		Details: map[string]any{"after_id": int64(9)},
	})
	s.Require().NoError(err)

	latest, err := s.store.LatestByActionResource(s.ctx, ActionExportCheckpoint, "siem-a")
	s.Require().NoError(err)
	s.Equal(int64(9), latest.Details["after_id"])

	_, err = s.store.LatestByActionResource(s.ctx, ActionExportCheckpoint, "siem-b")
	s.Error(err)
}

func (s *InMemoryStoreSuite) TestDeleteOlderThanHonorsExclusions() {
	s.append(s.base.Add(-48*time.Hour), ActionLoginFailed)
	s.append(s.base.Add(-48*time.Hour), ActionRetentionPurge)
	s.append(s.base, ActionLoginFailed)

	deleted, err := s.store.DeleteOlderThan(s.ctx, s.base.Add(-24*time.Hour), []string{ActionRetentionPurge})
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
	s.Equal(2, s.store.Len())
}

func (s *InMemoryStoreSuite) TestAgeStats() {
	s.append(s.base.Add(-72*time.Hour), ActionLoginFailed)
	s.append(s.base.Add(-48*time.Hour), ActionAccountLocked)
	s.append(s.base, ActionLoginFailed)

	stats, err := s.store.AgeStats(s.ctx, s.base.Add(-24*time.Hour), nil)
	s.Require().NoError(err)
	s.Equal(int64(2), stats.Count)
	s.Require().NotNil(stats.Oldest)
	s.Require().NotNil(stats.Newest)
	s.Equal(s.base.Add(-72*time.Hour), *stats.Oldest)
	s.Equal(s.base.Add(-48*time.Hour), *stats.Newest)
}

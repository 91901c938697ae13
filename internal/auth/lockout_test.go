package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/registry"
)

type LockoutSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	tracker *lockoutTracker
}

func TestLockoutSuite(t *testing.T) {
	suite.Run(t, new(LockoutSuite))
}

func (s *LockoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewInMemory(registry.WithClock(func() time.Time { return s.now }))
	s.tracker = newLockoutTracker(reg, 3, 5*time.Minute, 15*time.Minute)
}

func (s *LockoutSuite) fail(user string) bool {
	tipped, _, err := s.tracker.RecordFailure(s.ctx, user, s.now)
	s.Require().NoError(err)
	return tipped
}

func (s *LockoutSuite) locked(user string) bool {
	locked, _, err := s.tracker.Check(s.ctx, user, s.now)
	s.Require().NoError(err)
	return locked
}

func (s *LockoutSuite) TestBelowThresholdStaysUnlocked() {
	s.False(s.fail("alice"))
	s.False(s.fail("alice"))
	s.False(s.locked("alice"))
}

func (s *LockoutSuite) TestThresholdTipsLock() {
	s.False(s.fail("alice"))
	s.False(s.fail("alice"))
	s.True(s.fail("alice"))
	s.True(s.locked("alice"))
}

func (s *LockoutSuite) TestLockExpires() {
	for range 3 {
		s.fail("alice")
	}
	s.True(s.locked("alice"))

	s.now = s.now.Add(16 * time.Minute)
	s.False(s.locked("alice"))
}

func (s *LockoutSuite) TestRemainingDuration() {
	for range 3 {
		s.fail("alice")
	}
	s.now = s.now.Add(5 * time.Minute)
	locked, remaining, err := s.tracker.Check(s.ctx, "alice", s.now)
	s.Require().NoError(err)
	s.True(locked)
	s.Equal(10*time.Minute, remaining)
}

// Failures outside the sliding window don't count toward the threshold.
func (s *LockoutSuite) TestWindowSlides() {
	s.fail("alice")
	s.fail("alice")

	s.now = s.now.Add(6 * time.Minute)
	s.False(s.fail("alice"))
	s.False(s.locked("alice"))
}

func (s *LockoutSuite) TestClearResetsHistory() {
	s.fail("alice")
	s.fail("alice")
	s.Require().NoError(s.tracker.Clear(s.ctx, "alice"))

	s.False(s.fail("alice"))
	s.False(s.locked("alice"))
}

func (s *LockoutSuite) TestUsersAreIndependent() {
	for range 3 {
		s.fail("alice")
	}
	s.True(s.locked("alice"))
	s.False(s.locked("bob"))
}

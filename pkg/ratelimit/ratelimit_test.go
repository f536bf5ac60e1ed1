package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryBucketSuite struct {
	suite.Suite
	now    time.Time
	bucket *MemoryBucket
}

func (s *MemoryBucketSuite) SetupTest() {
	s.now = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	bucket, err := NewMemoryBucket(Config{Capacity: 10, RefillPerSecond: 2}, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.bucket = bucket
}

func (s *MemoryBucketSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *MemoryBucketSuite) TestFullGrant() {
	g, err := s.bucket.Take(context.Background(), 4)
	s.Require().NoError(err)
	s.Equal(4, g.Granted)
	s.Equal(6, g.Remaining)
	s.False(g.Partial())
	s.Zero(g.RetryAfter)
}

func (s *MemoryBucketSuite) TestPartialGrantNeverOverdraws() {
	g, err := s.bucket.Take(context.Background(), 25)
	s.Require().NoError(err)
	s.Equal(10, g.Granted)
	s.Equal(0, g.Remaining)
	s.True(g.Partial())
	s.Equal(500*time.Millisecond, g.RetryAfter)

	g, err = s.bucket.Take(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(0, g.Granted)
}

func (s *MemoryBucketSuite) TestRefill() {
	_, err := s.bucket.Take(context.Background(), 10)
	s.Require().NoError(err)

	s.advance(1500 * time.Millisecond)
	g, err := s.bucket.Take(context.Background(), 5)
	s.Require().NoError(err)
	s.Equal(3, g.Granted)
	s.Equal(500*time.Millisecond, g.RetryAfter)

	s.advance(time.Hour)
	g, err = s.bucket.Take(context.Background(), 20)
	s.Require().NoError(err)
	s.Equal(10, g.Granted, "refill is capped at capacity")
}

func TestMemoryBucketSuite(t *testing.T) {
	suite.Run(t, new(MemoryBucketSuite))
}

func TestMemoryBucket_Concurrent(t *testing.T) {
	bucket, err := NewMemoryBucket(Config{Capacity: 100, RefillPerSecond: 0.001})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := bucket.Take(context.Background(), 7)
			if err != nil {
				return
			}
			mu.Lock()
			total += g.Granted
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, total)
}

func TestNewMemoryBucket_InvalidConfig(t *testing.T) {
	_, err := NewMemoryBucket(Config{Capacity: 0, RefillPerSecond: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

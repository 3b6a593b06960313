package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

type countingRates struct {
	rate  float64
	err   error
	calls int
}

func (c *countingRates) Rate(context.Context, string) (float64, error) {
	c.calls++
	return c.rate, c.err
}

type mapRateCache map[string]struct {
	rate float64
	ts   time.Time
}

func (m mapRateCache) SetRate(_ context.Context, code string, rate float64, ts time.Time) error {
	m[code] = struct {
		rate float64
		ts   time.Time
	}{rate, ts}
	return nil
}

func (m mapRateCache) GetRate(_ context.Context, code string) (float64, time.Time, error) {
	v, ok := m[code]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v.rate, v.ts, nil
}

func TestRateServiceCaches(t *testing.T) {
	ctx := context.Background()
	up := &countingRates{rate: 60_000}
	cache := mapRateCache{}
	s := NewRateService(up, cache, time.Minute, discardLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		r, err := s.Rate(ctx, "usd")
		if err != nil || r != 60_000 {
			t.Fatalf("Rate = %v, %v", r, err)
		}
	}
	if up.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", up.calls)
	}

	now = now.Add(2 * time.Minute)
	up.rate = 61_000
	if r, _ := s.Rate(ctx, "USD"); r != 61_000 {
		t.Errorf("stale cache served %v", r)
	}
	if up.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", up.calls)
	}
}

func TestRateServiceUpstreamError(t *testing.T) {
	up := &countingRates{err: domain.ErrRateUnavailable}
	s := NewRateService(up, nil, time.Minute, discardLogger())
	if _, err := s.Rate(context.Background(), "VES"); !errors.Is(err, domain.ErrRateUnavailable) {
		t.Fatalf("err = %v, want ErrRateUnavailable", err)
	}
}

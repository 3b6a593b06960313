package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// RateService serves fiat rates from the cache while they are fresh and
// falls back to the upstream provider otherwise.
type RateService struct {
	upstream domain.RatesProvider
	cache    domain.RateCache
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateService creates a RateService. cache may be nil, in which case
// every call goes upstream.
func NewRateService(upstream domain.RatesProvider, cache domain.RateCache, ttl time.Duration, logger *slog.Logger) *RateService {
	return &RateService{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "rate_service")),
		now:      time.Now,
	}
}

// Rate returns the price of one bitcoin in fiatCode.
func (s *RateService) Rate(ctx context.Context, fiatCode string) (float64, error) {
	code := strings.ToUpper(fiatCode)
	if s.cache != nil {
		rate, ts, err := s.cache.GetRate(ctx, code)
		switch {
		case err == nil && s.now().Sub(ts) < s.ttl:
			return rate, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "rate_service: cache read failed",
				slog.String("fiat_code", code),
				slog.String("error", err.Error()),
			)
		}
	}

	rate, err := s.upstream.Rate(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("rate_service: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetRate(ctx, code, rate, s.now()); err != nil {
			s.logger.WarnContext(ctx, "rate_service: cache write failed",
				slog.String("fiat_code", code),
				slog.String("error", err.Error()),
			)
		}
	}
	return rate, nil
}

var _ domain.RatesProvider = (*RateService)(nil)

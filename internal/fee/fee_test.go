package fee

import (
	"errors"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want int64
	}{
		{
			name: "no community",
			p:    Params{Amount: 100000, BotFeeRate: 0.01, SplitRate: 0.7},
			want: 1000,
		},
		{
			name: "no community golden",
			p:    Params{Amount: 100000, BotFeeRate: 0.01, SplitRate: 0.7, Golden: true},
			want: 0,
		},
		{
			name: "community split",
			p: Params{Amount: 100000, BotFeeRate: 0.01, SplitRate: 0.7,
				HasCommunity: true, CommunityPercent: 50},
			want: 850,
		},
		{
			name: "community golden",
			p: Params{Amount: 100000, BotFeeRate: 0.01, SplitRate: 0.7,
				HasCommunity: true, CommunityPercent: 50, Golden: true},
			want: 150,
		},
		{
			name: "rounds max fee",
			p:    Params{Amount: 12345, BotFeeRate: 0.006},
			want: 74,
		},
		{
			name: "zero amount",
			p:    Params{Amount: 0, BotFeeRate: 0.006, HasCommunity: true, CommunityPercent: 30},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.p); got != tt.want {
				t.Errorf("Compute() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitScenarios(t *testing.T) {
	base := domain.Order{Amount: 100000, BotFee: 0.01, CommunityFee: 0.7}

	noCommunity := base
	noCommunity.Fee = 1000
	if got := Split(noCommunity); got.BotFee != 1000 || got.CommunityFee != 0 {
		t.Errorf("no community split = %+v", got)
	}

	withCommunity := base
	withCommunity.CommunityID = "c1"
	withCommunity.Fee = ForOrder(withCommunity, &domain.Community{ID: "c1", Fee: 50})
	got := Split(withCommunity)
	if got.BotFee != 700 || got.CommunityFee != 150 {
		t.Errorf("community split = %+v, want bot 700 community 150", got)
	}

	golden := withCommunity
	golden.IsGoldenHoneyBadger = true
	golden.Fee = ForOrder(golden, &domain.Community{ID: "c1", Fee: 50})
	got = Split(golden)
	if got.BotFee != 0 || got.CommunityFee != 150 {
		t.Errorf("golden split = %+v, want bot 0 community 150", got)
	}
}

func TestSplitAlwaysSumsToFee(t *testing.T) {
	rates := []float64{0.002, 0.006, 0.01, 0.013}
	splits := []float64{0, 0.3, 0.7, 1}
	percents := []float64{0, 10, 33.3, 50, 100}
	for _, amount := range []int64{1, 999, 12345, 100000, 2500001} {
		for _, rate := range rates {
			for _, split := range splits {
				for _, pct := range percents {
					for _, golden := range []bool{false, true} {
						o := domain.Order{
							Amount: amount, BotFee: rate, CommunityFee: split,
							CommunityID: "c", IsGoldenHoneyBadger: golden,
						}
						o.Fee = ForOrder(o, &domain.Community{ID: "c", Fee: pct})
						b := Split(o)
						if b.BotFee+b.CommunityFee != o.Fee {
							t.Fatalf("amount=%d rate=%v split=%v pct=%v golden=%v: %+v does not sum to %d",
								amount, rate, split, pct, golden, b, o.Fee)
						}
						if b.BotFee < 0 || b.CommunityFee < 0 {
							t.Fatalf("negative share %+v", b)
						}
					}
				}
			}
		}
	}
}

func TestSatsForFiat(t *testing.T) {
	sats, err := SatsForFiat(100, 50000, 0)
	if err != nil {
		t.Fatalf("SatsForFiat: %v", err)
	}
	if sats != 200000 {
		t.Errorf("sats = %d, want 200000", sats)
	}

	sats, err = SatsForFiat(100, 50000, 5)
	if err != nil {
		t.Fatalf("SatsForFiat: %v", err)
	}
	if sats != 210000 {
		t.Errorf("sats with margin = %d, want 210000", sats)
	}

	if _, err := SatsForFiat(100, 0, 0); !errors.Is(err, domain.ErrRateUnavailable) {
		t.Errorf("err = %v, want ErrRateUnavailable", err)
	}
}

func TestGolden(t *testing.T) {
	zero := func(int) int { return 0 }
	one := func(int) int { return 1 }
	if !Golden(100, zero) {
		t.Error("expected a win when the draw is zero")
	}
	if Golden(100, one) {
		t.Error("expected no win when the draw is non-zero")
	}
	if Golden(0, zero) {
		t.Error("probability 0 must disable the promotion")
	}
}

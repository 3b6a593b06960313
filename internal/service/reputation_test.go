package service

import (
	"context"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/store/memstore"
)

func seedTrade(t *testing.T, st domain.Stores, id, buyer, seller string, amount int64, takenAt time.Time) {
	t.Helper()
	err := st.Orders.Create(context.Background(), domain.Order{
		ID:        id,
		BuyerID:   buyer,
		SellerID:  seller,
		Amount:    amount,
		Status:    domain.OrderStatusSuccess,
		CreatedAt: takenAt,
		TakenAt:   &takenAt,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestHandleReputationItems(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		seed       func(t *testing.T, st domain.Stores)
		amount     int64
		wantTrades int
		wantVolume int64
	}{
		{
			name:       "fresh pair is credited",
			seed:       func(*testing.T, domain.Stores) {},
			amount:     2_000,
			wantTrades: 6,
			wantVolume: 12_000,
		},
		{
			name: "larger than latest reversed trade reverts all of them",
			seed: func(t *testing.T, st domain.Stores) {
				seedTrade(t, st, "r1", "b", "a", 1_000, now.Add(-time.Hour))
				seedTrade(t, st, "r2", "b", "a", 3_000, now.Add(-2*time.Hour))
			},
			amount:     2_000,
			wantTrades: 3,
			wantVolume: 6_000,
		},
		{
			name: "not larger than latest reversed trade reverts one",
			seed: func(t *testing.T, st domain.Stores) {
				seedTrade(t, st, "r1", "b", "a", 1_000, now.Add(-time.Hour))
				seedTrade(t, st, "r2", "b", "a", 3_000, now.Add(-2*time.Hour))
			},
			amount:     1_000,
			wantTrades: 4,
			wantVolume: 9_000,
		},
		{
			name: "reversed trade outside the window is ignored",
			seed: func(t *testing.T, st domain.Stores) {
				seedTrade(t, st, "r1", "b", "a", 1_000, now.Add(-25*time.Hour))
			},
			amount:     2_000,
			wantTrades: 6,
			wantVolume: 12_000,
		},
		{
			name: "same direction is not circular",
			seed: func(t *testing.T, st domain.Stores) {
				seedTrade(t, st, "s1", "a", "b", 1_000, now.Add(-time.Hour))
			},
			amount:     2_000,
			wantTrades: 6,
			wantVolume: 12_000,
		},
		{
			name: "single larger reversed trade reverts it",
			seed: func(t *testing.T, st domain.Stores) {
				seedTrade(t, st, "r1", "b", "a", 100, now.Add(-time.Hour))
			},
			amount:     50_000,
			wantTrades: 4,
			wantVolume: 9_900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := memstore.New().Stores()
			for _, id := range []string{"a", "b"} {
				if err := st.Users.Create(ctx, domain.User{ID: id, TradesCompleted: 5, VolumeTraded: 10_000}); err != nil {
					t.Fatalf("create user: %v", err)
				}
			}
			tt.seed(t, st)

			r := NewReputation(st.Orders, st.Users, 24*time.Hour, discardLogger())
			r.now = func() time.Time { return now }
			if err := r.HandleReputationItems(ctx, "a", "b", tt.amount); err != nil {
				t.Fatalf("HandleReputationItems: %v", err)
			}
			for _, id := range []string{"a", "b"} {
				u, _ := st.Users.GetByID(ctx, id)
				if u.TradesCompleted != tt.wantTrades || u.VolumeTraded != tt.wantVolume {
					t.Errorf("%s = %d/%d, want %d/%d", id, u.TradesCompleted, u.VolumeTraded, tt.wantTrades, tt.wantVolume)
				}
			}
		})
	}
}

func TestReputationNeverNegative(t *testing.T) {
	ctx := context.Background()
	st := memstore.New().Stores()
	for _, id := range []string{"a", "b"} {
		if err := st.Users.Create(ctx, domain.User{ID: id}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	now := time.Now()
	seedTrade(t, st, "r1", "b", "a", 500, now.Add(-time.Minute))
	seedTrade(t, st, "r2", "b", "a", 700, now.Add(-2*time.Minute))

	r := NewReputation(st.Orders, st.Users, 0, discardLogger())
	if err := r.HandleReputationItems(ctx, "a", "b", 10_000); err != nil {
		t.Fatalf("HandleReputationItems: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		u, _ := st.Users.GetByID(ctx, id)
		if u.TradesCompleted != 0 || u.VolumeTraded != 0 {
			t.Errorf("%s = %d/%d, want 0/0", id, u.TradesCompleted, u.VolumeTraded)
		}
	}
}

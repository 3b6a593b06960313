package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("amount", domain.ErrInvalidAmount), http.StatusBadRequest},
		{fmt.Errorf("order_service: get order: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrNotParticipant, http.StatusForbidden},
		{domain.ErrNotSolver, http.StatusForbidden},
		{domain.ErrUserBanned, http.StatusForbidden},
		{domain.ErrAlreadyTaken, http.StatusConflict},
		{domain.ErrCannotTakeOwnOrder, http.StatusConflict},
		{domain.ErrStaleOrder, http.StatusConflict},
		{domain.ErrPayoutInProgress, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{&domain.GatewayError{Op: "create", Err: errors.New("dial tcp"), Retriable: true}, http.StatusServiceUnavailable},
		{fmt.Errorf("order_service: %w", domain.ErrRateUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

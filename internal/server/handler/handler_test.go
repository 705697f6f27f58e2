package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", domain.ErrNotOwner), http.StatusForbidden, "NotOwner"},
		{domain.ErrDailyLossLimitReached, http.StatusUnprocessableEntity, "DailyLossLimitReached"},
		{domain.ErrPositionAlreadyClosed, http.StatusConflict, "PositionAlreadyClosed"},
		{domain.ErrGlobalTradingPaused, http.StatusLocked, "GlobalTradingPaused"},
		{domain.ErrTransferFailed, http.StatusBadGateway, "TransferFailed"},
		{domain.ErrInvalidAmount, http.StatusBadRequest, "InvalidAmount"},
		{fmt.Errorf("memory: agent: %w", domain.ErrNotFound), http.StatusNotFound, "NotFound"},
		{domain.ErrExpired, http.StatusUnauthorized, "Expired"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RateLimited"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			status, body := StatusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Kind)
		})
	}
}

func TestStatusFor_HidesInternalDetail(t *testing.T) {
	_, body := StatusFor(errors.New("postgres: password=hunter2"))
	assert.Equal(t, "internal error", body.Message)
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=9000&offset=3&since=2026-01-02T00:00:00Z", nil)
	opts, err := parseListOpts(r)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 3, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Nil(t, opts.Until)

	_, err = parseListOpts(httptest.NewRequest(http.MethodGet, "/x?until=yesterday", nil))
	assert.Error(t, err)
}

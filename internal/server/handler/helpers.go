package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError sends an input error with a message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorBody{Code: http.StatusText(status), Kind: string(domain.KindInput), Message: msg})
}

// infraErrors classify the non-contract failures by status.
var infraErrors = []struct {
	err    error
	status int
	code   string
	kind   domain.ErrorKind
}{
	{domain.ErrNotFound, http.StatusNotFound, "NotFound", domain.KindInput},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", domain.KindAuthorization},
	{domain.ErrExpired, http.StatusUnauthorized, "Expired", domain.KindAuthorization},
	{domain.ErrDuplicate, http.StatusConflict, "Duplicate", domain.KindStateConflict},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RateLimited", domain.KindPolicy},
}

// StatusFor maps an error to its HTTP status and body.
func StatusFor(err error) (int, ErrorBody) {
	var ce *domain.Error
	if errors.As(err, &ce) {
		body := ErrorBody{Code: ce.Code, Kind: string(ce.Kind), Message: err.Error()}
		switch ce.Kind {
		case domain.KindAuthorization:
			return http.StatusForbidden, body
		case domain.KindPolicy:
			return http.StatusUnprocessableEntity, body
		case domain.KindStateConflict:
			return http.StatusConflict, body
		case domain.KindCircuitBreaker:
			return http.StatusLocked, body
		case domain.KindExternal:
			return http.StatusBadGateway, body
		default:
			return http.StatusBadRequest, body
		}
	}
	for _, ie := range infraErrors {
		if errors.Is(err, ie.err) {
			return ie.status, ErrorBody{Code: ie.code, Kind: string(ie.kind), Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorBody{Code: "Internal", Kind: string(domain.KindExternal), Message: "internal error"}
}

// writeFailure sends err with the status its kind maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	writeJSON(w, status, body)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = &t
	}
	return opts, nil
}

// parseAddress validates a hex address.
func parseAddress(s, what string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s %q", what, s)
	}
	return common.HexToAddress(s), nil
}

// parseMarketID accepts a 32-byte hex id.
func parseMarketID(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid market id %q", s)
	}
	return common.BytesToHash(b), nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/crypto"
	"github.com/alanyoungcy/agentvault/internal/system"
)

// apiClient talks to a running agentd.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Code   string `json:"code"`
	Kind   string `json:"kind"`
	Msg    string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agentctl: %d %s (%s): %s", e.Status, e.Code, e.Kind, e.Msg)
	}
	return fmt.Sprintf("agentctl: %d: %s", e.Status, e.Msg)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("agentctl: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("agentctl: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentctl: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("agentctl: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(out, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(out))
		}
		return nil, apiErr
	}
	return out, nil
}

// Info fetches the deployment summary.
func (c *apiClient) Info(ctx context.Context) (system.Info, error) {
	var info system.Info
	raw, err := c.do(ctx, http.MethodGet, "/api/chain/info", nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("agentctl: decode info: %w", err)
	}
	return info, nil
}

// Submit posts a signed envelope and returns the raw receipt.
func (c *apiClient) Submit(ctx context.Context, env crypto.Envelope) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/tx", env)
}

// resolveTarget accepts a hex address or the name of a system contract.
func (c *apiClient) resolveTarget(ctx context.Context, target string) (common.Address, error) {
	if common.IsHexAddress(target) {
		return common.HexToAddress(target), nil
	}
	info, err := c.Info(ctx)
	if err != nil {
		return common.Address{}, err
	}
	switch strings.ToLower(target) {
	case "factory":
		return info.Addresses.Factory, nil
	case "permissions":
		return info.Addresses.Permissions, nil
	case "adapter":
		return info.Addresses.Adapter, nil
	case "venue":
		return info.Addresses.Venue, nil
	case "ledger", "native":
		return common.Address{}, nil
	default:
		return common.Address{}, fmt.Errorf("agentctl: unknown target %q (address, factory, permissions, adapter, venue or native)", target)
	}
}

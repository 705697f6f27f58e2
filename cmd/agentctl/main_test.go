package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/config"
	"github.com/alanyoungcy/agentvault/internal/crypto"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/system"
)

const ownerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// fakeNode serves the chain info and records the submitted envelopes.
type fakeNode struct {
	addrs     system.Addresses
	envelopes []crypto.Envelope
	reject    bool
}

func (f *fakeNode) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chain/info", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(system.Info{Addresses: f.addrs})
	})
	mux.HandleFunc("POST /api/tx", func(w http.ResponseWriter, r *http.Request) {
		var env crypto.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		f.envelopes = append(f.envelopes, env)
		if f.reject {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":"ExceedsMaxTradeSize","kind":"policy_violation","message":"too big"}`))
			return
		}
		_, _ = w.Write([]byte(`{"tx":{"seq":7},"events":[]}`))
	})
	return mux
}

func newTestConfig(url string) *config.Config {
	cfg := config.Defaults()
	cfg.Key.PrivateKey = ownerKey
	cfg.Key.APIURL = url
	return &cfg
}

func TestRun_CallSignsAndResolvesTarget(t *testing.T) {
	node := &fakeNode{addrs: system.AddressesFor(common.HexToAddress(config.DevDeployer))}
	srv := httptest.NewServer(node.handler(t))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), newTestConfig(srv.URL), []string{
		"call", "-to", "factory", "-method", "createAgent",
		"-args", `{"maxTradeSize":"0x1"}`, "-value", "0.5",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"seq": 7`)

	require.Len(t, node.envelopes, 1)
	env := node.envelopes[0]
	assert.Equal(t, node.addrs.Factory, env.To)
	assert.Equal(t, "createAgent", env.Method)
	assert.Zero(t, domain.Ether("0.5").Cmp(env.Value.ToInt()))
	assert.JSONEq(t, `{"maxTradeSize":"0x1"}`, string(env.Args))
	require.NoError(t, env.Verify(time.Now()))
	assert.Equal(t, common.HexToAddress(config.DevDeployer), env.From)
}

func TestRun_CallSurfacesContractError(t *testing.T) {
	node := &fakeNode{reject: true}
	srv := httptest.NewServer(node.handler(t))
	defer srv.Close()

	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	err := run(context.Background(), newTestConfig(srv.URL), []string{
		"call", "-to", wallet, "-method", "executeTrade",
	}, &bytes.Buffer{})

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "ExceedsMaxTradeSize", apiErr.Code)
}

func TestRun_CallValidatesFlags(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:0")
	err := run(context.Background(), cfg, []string{"call", "-method", "pause"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "-to and -method are required")

	err = run(context.Background(), cfg, []string{"call", "-to", config.DevExecutor, "-method", "pause", "-args", "{"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "not valid JSON")

	require.ErrorIs(t, run(context.Background(), cfg, []string{"bogus"}, &bytes.Buffer{}), errUsage)
}

func TestRun_EncryptKeyThenAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	cfg := newTestConfig("")
	cfg.Key.KeyPassword = "correct horse"

	require.NoError(t, run(context.Background(), cfg, []string{"encrypt-key", "-out", path, "-iterations", "1000"}, &bytes.Buffer{}))

	fromFile := config.Defaults()
	fromFile.Key.EncryptedKeyPath = path
	fromFile.Key.KeyPassword = "correct horse"

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &fromFile, []string{"address"}, &out))
	assert.Equal(t, config.DevDeployer, strings.TrimSpace(out.String()))
}

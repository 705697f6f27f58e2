package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	alerts []Alert
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, a Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSender) titles() []string {
	var out []string
	for _, a := range s.alerts {
		out = append(out, a.Title)
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func record(t *testing.T, ev domain.Event) domain.EventRecord {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return domain.EventRecord{Seq: 7, Name: ev.EventName(), Data: data}
}

func TestNotifier_AlertFiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quiet())
	ctx := context.Background()

	require.NoError(t, n.Alert(ctx, record(t, domain.GlobalTradingPaused{})))
	require.NoError(t, n.Alert(ctx, record(t, domain.AgentPaused{Agent: common.HexToAddress("0x1")})))
	require.NoError(t, n.Alert(ctx, record(t, domain.DailyLossLimitReached{
		Agent:       common.HexToAddress("0x1"),
		Accumulated: domain.Ether("0.25"),
		Limit:       domain.Ether("0.25"),
	})))

	assert.Equal(t, []string{"Global trading paused", "Daily loss limit reached"}, s.titles())
	assert.Equal(t, SeverityCritical, s.alerts[0].Severity)
	assert.Equal(t, uint64(7), s.alerts[1].Seq)
	assert.True(t, n.Enabled(domain.EventAgentCreated))
	assert.False(t, n.Enabled(domain.EventTradeExecuted))
}

func TestNotifier_CollectsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, []string{domain.EventAgentPaused}, quiet())

	err := n.Alert(context.Background(), record(t, domain.AgentPaused{Agent: common.HexToAddress("0x1")}))
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "1 of 2")
	assert.Equal(t, []string{"Agent paused"}, good.titles())
}

func TestFormatEvent_DailyLoss(t *testing.T) {
	a, ok, err := FormatEvent(record(t, domain.DailyLossLimitReached{
		Agent:       common.HexToAddress("0x1"),
		Accumulated: domain.Ether("0.3"),
		Limit:       domain.Ether("0.3"),
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Daily loss limit reached", a.Title)
	assert.Equal(t, domain.EventDailyLossLimitReached, a.Event)
	assert.Contains(t, a.Message, "0.3 ETH")

	_, ok, err = FormatEvent(record(t, domain.FeeUpdated{FeeBps: 10}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), Alert{Title: "Title", Message: "body"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])

	require.NoError(t, s.Send(context.Background(), Alert{Title: "Paused", Message: "x", Severity: SeverityCritical}))
	assert.Equal(t, "*🚨 Paused*\nx", got["text"])
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "agentvault")
	alert := Alert{Event: domain.EventAgentPaused, Seq: 9, Severity: SeverityWarning, Title: "Title", Message: "body"}
	require.NoError(t, s.Send(context.Background(), alert))
	assert.Equal(t, "agentvault", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Title", got.Embeds[0].Title)
	assert.Equal(t, 0xf1c40f, got.Embeds[0].Color)
	assert.Contains(t, got.Embeds[0].Footer.Text, "seq 9")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL, "").Send(context.Background(), alert)
	require.ErrorContains(t, err, "status 400: nope")
}

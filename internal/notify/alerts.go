package notify

import (
	"fmt"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Severity orders alerts for senders that can highlight them.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Alert is one rendered operator notification.
type Alert struct {
	Event    string
	Seq      uint64
	Severity Severity
	Title    string
	Message  string
}

// DefaultEvents are the events alerted on when none are configured.
var DefaultEvents = []string{
	domain.EventGlobalTradingPaused,
	domain.EventGlobalTradingResumed,
	domain.EventDailyLossLimitReached,
	domain.EventAgentCreated,
}

// FormatEvent renders a committed event. ok is false for events that have
// no alert format.
func FormatEvent(rec domain.EventRecord) (a Alert, ok bool, err error) {
	ev, err := domain.DecodeEvent(rec)
	if err != nil {
		return a, false, err
	}
	a = Alert{Event: rec.Name, Seq: rec.Seq, Severity: SeverityInfo}
	switch e := ev.(type) {
	case *domain.GlobalTradingPaused:
		a.Severity = SeverityCritical
		a.Title = "Global trading paused"
		a.Message = fmt.Sprintf("All agent wallets stopped opening positions at seq %d.", rec.Seq)
	case *domain.GlobalTradingResumed:
		a.Severity = SeverityWarning
		a.Title = "Global trading resumed"
		a.Message = fmt.Sprintf("Agent wallets may trade again from seq %d.", rec.Seq)
	case *domain.DailyLossLimitReached:
		a.Severity = SeverityCritical
		a.Title = "Daily loss limit reached"
		a.Message = fmt.Sprintf("Agent %s lost %s ETH of its %s ETH daily limit; new trades are blocked until the window resets.",
			e.Agent.Hex(), domain.FormatEther(e.Accumulated), domain.FormatEther(e.Limit))
	case *domain.AgentCreated:
		a.Title = "Agent created"
		a.Message = fmt.Sprintf("Owner %s deployed agent %s (%s, max trade %s ETH, daily loss %s ETH, %d markets).",
			e.Owner.Hex(), e.Agent.Hex(), e.Config.RiskProfile,
			domain.FormatEther(e.Config.MaxTradeSize), domain.FormatEther(e.Config.DailyLossLimit),
			len(e.Config.WhitelistedMarkets))
	case *domain.AgentPaused:
		a.Severity = SeverityWarning
		a.Title = "Agent paused"
		a.Message = fmt.Sprintf("Owner paused agent %s.", e.Agent.Hex())
	case *domain.AgentUnpaused:
		a.Title = "Agent unpaused"
		a.Message = fmt.Sprintf("Owner unpaused agent %s.", e.Agent.Hex())
	case *domain.PositionClosed:
		a.Title = "Position closed"
		a.Message = fmt.Sprintf("Agent %s closed position %d: payout %s ETH, pnl %s ETH.",
			e.Agent.Hex(), e.PositionID, domain.FormatEther(e.Payout), domain.FormatEther(e.RealizedPnl))
	default:
		return Alert{}, false, nil
	}
	return a, true, nil
}

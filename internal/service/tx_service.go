// Package service holds the application services that sit between the HTTP
// surface and the deployed contracts: call admission, post-commit fan-out,
// archival and sequencer leadership.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/crypto"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Submitter executes a call as the next transaction.
type Submitter interface {
	Submit(ctx context.Context, call domain.Call) (*chain.Receipt, error)
}

// TxConfig controls call admission.
type TxConfig struct {
	RequireSignatures bool
	// MaxDeadline bounds how far in the future a signed envelope may expire.
	// Envelopes are remembered for this long to reject replays.
	MaxDeadline time.Duration
	RateLimit   int
	RateWindow  time.Duration
}

// TxService admits call envelopes: signature and deadline, per-sender rate
// limit, replay protection, then execution. Rejections are audited.
type TxService struct {
	sys     Submitter
	limiter domain.RateLimiter
	dedup   domain.Deduper
	audit   domain.AuditStore
	cfg     TxConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewTxService creates a TxService. limiter, dedup and audit may be nil.
func NewTxService(
	sys Submitter,
	limiter domain.RateLimiter,
	dedup domain.Deduper,
	audit domain.AuditStore,
	cfg TxConfig,
	logger *slog.Logger,
) *TxService {
	if cfg.MaxDeadline <= 0 {
		cfg.MaxDeadline = 10 * time.Minute
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &TxService{
		sys:     sys,
		limiter: limiter,
		dedup:   dedup,
		audit:   audit,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "tx_service")),
	}
}

// Submit admits and executes env. Contract failures are returned unwrapped
// so callers can classify them with domain.KindOf.
func (s *TxService) Submit(ctx context.Context, env crypto.Envelope) (*chain.Receipt, error) {
	now := s.now()

	if s.cfg.RequireSignatures {
		if err := env.Verify(now); err != nil {
			s.reject(ctx, env, err)
			return nil, fmt.Errorf("tx_service: verify: %w", err)
		}
		if time.Unix(env.Deadline, 0).Sub(now) > s.cfg.MaxDeadline {
			err := fmt.Errorf("%w: deadline more than %s ahead", domain.ErrExpired, s.cfg.MaxDeadline)
			s.reject(ctx, env, err)
			return nil, fmt.Errorf("tx_service: verify: %w", err)
		}
	}

	if s.limiter != nil && s.cfg.RateLimit > 0 {
		key := "tx:" + strings.ToLower(env.From.Hex())
		ok, err := s.limiter.Allow(ctx, key, s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			// Fail open when the limiter is unreachable.
			s.logger.WarnContext(ctx, "tx_service: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		} else if !ok {
			s.reject(ctx, env, domain.ErrRateLimited)
			return nil, fmt.Errorf("tx_service: %s: %w", env.From.Hex(), domain.ErrRateLimited)
		}
	}

	if s.dedup != nil && len(env.Signature) > 0 {
		seen, err := s.dedup.Seen(ctx, "tx:"+env.Digest().Hex(), s.cfg.MaxDeadline)
		if err != nil {
			return nil, fmt.Errorf("tx_service: dedup: %w", err)
		}
		if seen {
			s.reject(ctx, env, domain.ErrDuplicate)
			return nil, fmt.Errorf("tx_service: envelope %s: %w", env.Digest().Hex(), domain.ErrDuplicate)
		}
	}

	receipt, err := s.sys.Submit(ctx, env.Call())
	if err != nil {
		s.reject(ctx, env, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "tx_service: committed",
		slog.Uint64("seq", receipt.Tx.Seq),
		slog.String("hash", receipt.Tx.Hash.Hex()),
		slog.String("from", env.From.Hex()),
		slog.String("method", env.Method),
		slog.Int("events", len(receipt.Events)),
	)
	return receipt, nil
}

func (s *TxService) reject(ctx context.Context, env crypto.Envelope, cause error) {
	detail := map[string]any{
		"from":   env.From.Hex(),
		"to":     env.To.Hex(),
		"method": env.Method,
		"error":  cause.Error(),
	}
	if code := domain.CodeOf(cause); code != "" {
		detail["code"] = code
		detail["kind"] = string(domain.KindOf(cause))
	}

	level := slog.LevelInfo
	if domain.CodeOf(cause) == "" && !isAdmissionError(cause) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "tx_service: rejected",
		slog.String("from", env.From.Hex()),
		slog.String("method", env.Method),
		slog.String("error", cause.Error()),
	)

	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, "tx.rejected", detail); err != nil {
		s.logger.WarnContext(ctx, "tx_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}
}

func isAdmissionError(err error) bool {
	for _, target := range []error{domain.ErrExpired, domain.ErrUnauthorized, domain.ErrRateLimited, domain.ErrDuplicate} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

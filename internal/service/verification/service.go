package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type verifyClient interface {
	VerifyPayment(ctx context.Context, reference string) (domain.VerificationResult, error)
}

// Policy bounds a single Verify call.
type Policy struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// DefaultPolicy is used for zero fields.
var DefaultPolicy = Policy{Timeout: 5 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond}

// Service asks the backend whether a gateway reference settled. It is the
// only authority on payment outcome.
type Service struct {
	client verifyClient
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(client verifyClient, policy Policy, logger *slog.Logger) *Service {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy.Timeout
	}
	if policy.Attempts < 1 {
		policy.Attempts = DefaultPolicy.Attempts
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, policy: policy, logger: logger, sleep: sleepCtx}
}

// Verify returns the settled result for reference. Transport failures are
// retried within the policy. A definitive non-success status is returned as a
// *domain.VerificationError without retry.
func (s *Service) Verify(ctx context.Context, reference string) (domain.VerificationResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.VerificationResult{}, domain.NewValidationError("reference", "is required")
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		res, err := s.once(ctx, reference)
		if err == nil {
			if !res.Settled() {
				s.logger.Warn("payment not settled", "reference", reference, "status", res.Status)
				return res, &domain.VerificationError{Reference: reference, Status: res.Status}
			}
			s.logger.Info("payment verified", "reference", reference, "order_id", res.OrderID)
			return res, nil
		}
		lastErr = err
		if !backend.Transient(err) || attempt == s.policy.Attempts {
			break
		}
		s.logger.Warn("verify attempt failed, retrying", "reference", reference, "attempt", attempt, "err", err)
		if err := s.sleep(ctx, s.policy.Backoff); err != nil {
			lastErr = err
			break
		}
	}
	s.logger.Error("payment verification failed", "reference", reference, "err", lastErr)
	return domain.VerificationResult{}, &domain.VerificationError{Reference: reference, Cause: lastErr}
}

func (s *Service) once(ctx context.Context, reference string) (domain.VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()
	res, err := s.client.VerifyPayment(ctx, reference)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return res, errors.Join(backend.ErrUnavailable, err)
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/puzzlr/internal/platform/chain"
)

// RetryPolicy governs every relayed write the same way: submission errors
// that may clear up are retried with exponential backoff, and a submitted
// transaction that is not mined within the confirmation window is replaced
// with the same nonce at a higher gas price. MaxAttempts bounds both.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// ConfirmTimeout is the first wait for a receipt before replacing.
	// Later waits grow by Multiplier.
	ConfirmTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		ConfirmTimeout:  8 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = d.ConfirmTimeout
	}
	return p
}

func (p RetryPolicy) exponential(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = p.MaxInterval
	if initial > b.MaxInterval {
		b.MaxInterval = initial
	}
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// submissionBackOff spaces resubmissions of a failed send.
func (p RetryPolicy) submissionBackOff(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(
		backoff.WithMaxRetries(p.exponential(p.InitialInterval), uint64(p.MaxAttempts-1)),
		ctx,
	)
}

// confirmBackOff yields one receipt wait per submission.
func (p RetryPolicy) confirmBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(p.exponential(p.ConfirmTimeout), uint64(p.MaxAttempts))
}

// submit runs send until it succeeds, returns a revert, or the attempts run
// out.
func (p RetryPolicy) submit(ctx context.Context, send func() (chain.SentTx, error), notify backoff.Notify) (chain.SentTx, error) {
	var sent chain.SentTx
	op := func() error {
		s, err := send()
		if err != nil {
			if chain.IsRevert(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		sent = s
		return nil
	}
	if err := backoff.RetryNotify(op, p.submissionBackOff(ctx), notify); err != nil {
		return chain.SentTx{}, err
	}
	return sent, nil
}

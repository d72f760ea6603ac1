package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Policy bounds the retry loop
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Backoff returns the wait before attempt n (n >= 2): initial * 2^(n-2),
// capped at MaxDelay, with +/- 10% jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt-2)))
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	return max(delay+jitter, 0)
}

// Target is one page to acquire.
type Target struct {
	URL         string
	LoadTimeout time.Duration // 0 = bounded only by ctx
}

// Outcome describes how an extraction went.
type Outcome struct {
	Attempts    int
	Degraded    bool   // The accepted document came from a stopped load
	ContentHash string // SHA-256 of the accepted document
}

// Retrying opens a fresh session for every attempt.
type Retrying struct {
	opener Opener
	policy Policy
	log    *logrus.Entry
}

func NewRetrying(opener Opener, policy Policy, log *logrus.Entry) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Retrying{opener: opener, policy: policy, log: log}
}

// Extract loads t.URL and runs fn on the parsed document, retrying on
// transient load failures and on ErrStructuralMismatch from fn. A load that
// timed out with a non-empty document still goes to fn. Other errors from fn
// are returned at once. After MaxAttempts the error wraps
// ErrExtractionExhausted and the last underlying error.
func Extract[T any](ctx context.Context, r *Retrying, t Target, fn func(*goquery.Document) (T, error)) (T, Outcome, error) {
	var zero T
	var out Outcome
	var lastErr error
	reqLog := r.log.WithField("url", t.URL)

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, out, fmt.Errorf("%w: cancelled before attempt %d after error: %w", err, attempt, lastErr)
			}
			return zero, out, err
		}

		if attempt > 1 {
			delay := r.policy.Backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_attempts": r.policy.MaxAttempts, "delay": delay}).
				Warnf("Retrying page: %v", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, out, fmt.Errorf("%w: cancelled during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		out.Attempts = attempt
		html, degraded, err := r.load(ctx, t)
		if err != nil {
			lastErr = err
			if !utils.IsTransient(err) {
				return zero, out, err
			}
			continue
		}

		doc, err := locate.Parse(html)
		if err != nil {
			lastErr = err
			continue
		}
		result, err := fn(doc)
		if err != nil {
			if errors.Is(err, utils.ErrStructuralMismatch) {
				lastErr = err
				reqLog.WithField("attempt", attempt).Debugf("Structure not found: %v", err)
				continue
			}
			return zero, out, err
		}

		out.Degraded = degraded
		out.ContentHash = utils.ContentHash(html)
		if degraded {
			reqLog.WithField("attempt", attempt).Debug("Accepted partially loaded page")
		}
		return result, out, nil
	}

	reqLog.Errorf("All %d attempts failed. Last error: %v", r.policy.MaxAttempts, lastErr)
	return zero, out, fmt.Errorf("%w (%d attempts, %s): %w",
		utils.ErrExtractionExhausted, r.policy.MaxAttempts, t.URL, lastErr)
}

// load runs one attempt in its own session. A timed-out load that produced
// markup is reported as degraded, not failed.
func (r *Retrying) load(ctx context.Context, t Target) (html string, degraded bool, err error) {
	session, err := r.opener.Open(ctx)
	if err != nil {
		return "", false, fmt.Errorf("%w: opening session: %w", utils.ErrNavigation, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.log.Debugf("Session close failed: %v", cerr)
		}
	}()

	// A started load is bounded by its own timeout, not by run cancellation,
	// so an interrupted run still gets the page it was waiting for.
	loadCtx := ctx
	if t.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), t.LoadTimeout)
		defer cancel()
	}

	html, err = session.Load(loadCtx, t.URL)
	if err != nil {
		if errors.Is(err, utils.ErrPageLoadTimeout) && html != "" {
			return html, true, nil
		}
		return "", false, err
	}
	return html, false, nil
}

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package embedding

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/poiesic/attrcat/ai"
)

// Backoff describes the retry schedule for transient failures.
type Backoff struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds up to this fraction of the delay at random. 0.25 adds up to 25%.
	Jitter float64
}

// DefaultBackoff returns the default retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.25,
	}
}

// Delay returns the wait before attempt+1, given that attempt has failed.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	if b.Jitter > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * b.Jitter * float64(delay))
	}
	return delay
}

// RetryWithBackoff runs operation until it succeeds, fails permanently, or
// runs out of attempts. Only errors ai.IsTransient accepts are retried.
// Returns the number of attempts made and the error from the last attempt.
func RetryWithBackoff(ctx context.Context, operation func(ctx context.Context) error, b Backoff) (int, error) {
	if b.MaxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		default:
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}
		if !ai.IsTransient(lastErr) {
			return attempt, lastErr
		}

		// Don't sleep after the last attempt
		if attempt == b.MaxAttempts {
			return attempt, lastErr
		}

		delay := b.Delay(attempt)
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", b.MaxAttempts, "delay", delay, "error", lastErr)

		// Sleep with context awareness
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return b.MaxAttempts, lastErr
}

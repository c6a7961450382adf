// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry runs an action a bounded number of times with a fixed delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v5"
	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// ErrRetryExhausted is returned (wrapped) once every attempt has failed.
var ErrRetryExhausted = model.ErrRetryExhausted

// Policy configures a bounded retry. MaxRetries counts retries after the
// first call, so the action runs at most MaxRetries+1 times.
type Policy struct {
	Op         string
	MaxRetries int
	Delay      time.Duration
	Logger     zerolog.Logger
}

// Do runs action until it succeeds, the retries are used up, or ctx ends.
func Do[T any](ctx context.Context, p Policy, action func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	logger := log.WithContext(ctx, p.Logger).With().Str("op", p.Op).Logger()

	var (
		result  T
		attempt int
	)
	err := retrygo.New(
		retrygo.Attempts(uint(p.MaxRetries+1)),
		retrygo.Delay(p.Delay),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
	).Do(func() error {
		attempt++
		v, err := action(ctx, attempt)
		if err != nil {
			logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Int("max_attempts", p.MaxRetries+1).Msg("attempt failed")
			return err
		}
		result = v
		return nil
	})
	if err == nil {
		return result, nil
	}

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, fmt.Errorf("%s: %w", p.Op, errors.Join(ctxErr, err))
	}
	metrics.IncRetryExhausted(p.Op)
	logger.Error().Err(err).Int(log.FieldAttempt, attempt).Msg("giving up")
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", p.Op, ErrRetryExhausted, attempt, err)
}

// WithBoundedRetry is Do with the defaults used by the ingest flow.
func WithBoundedRetry[T any](ctx context.Context, op string, maxRetries int, delay time.Duration, action func(ctx context.Context) (T, error)) (T, error) {
	return Do(ctx, Policy{Op: op, MaxRetries: maxRetries, Delay: delay, Logger: log.WithComponent("retry")},
		func(ctx context.Context, _ int) (T, error) { return action(ctx) })
}

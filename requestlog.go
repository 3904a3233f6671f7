package main

import (
	"context"

	"go.uber.org/zap"

	"mochi_backend/generation"
	"mochi_backend/logging"
)

// requestLog writes the lifecycle of each generation request to the log:
// start and finish as an observer, saved images and steps from the
// service's streams.
type requestLog struct {
	logger *zap.Logger
}

func newRequestLog(logger *zap.Logger) *requestLog {
	return &requestLog{logger: logger.Named("requests")}
}

func (l *requestLog) RequestStarted(req generation.Request) {
	l.logger.Info("Generation request started", logging.Request(req))
}

func (l *requestLog) RequestFinished(req generation.Request, outcome generation.Outcome) {
	fields := append(logging.RequestFields(req), logging.OutcomeFields(outcome)...)
	l.logger.Debug("Generation request outcome", fields...)
}

// consumeResults logs every saved image until ctx is done or results closes.
func (l *requestLog) consumeResults(ctx context.Context, results <-chan generation.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			l.logger.Debug("Image saved", logging.ResultFields(r)...)
		}
	}
}

// consumeSteps logs finished denoising steps.
func (l *requestLog) consumeSteps(ctx context.Context, events <-chan generation.StateEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Status.Kind != generation.StatusRunning || ev.Status.Progress == nil || ev.LastStepElapsed <= 0 {
				continue
			}
			l.logger.Debug("Step finished", logging.StepFields(*ev.Status.Progress, ev.LastStepElapsed)...)
		}
	}
}

// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bassosimone/runtimex"
)

// DefaultSampleCount is the number of samples each experiment takes.
const DefaultSampleCount = 5

// NewRunner returns a new [*Runner] whose experiments use sampler.
func NewRunner(cfg *Config, sampler *Sampler, logger SLogger) *Runner {
	return &Runner{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Output:        io.Discard,
		Sampler:       sampler,
		TimeNow:       cfg.TimeNow,
	}
}

// Runner drives experiments through a [*Sampler], one sample at a time.
//
// All fields are safe to modify after construction but before first use.
type Runner struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Output receives the text report of each experiment.
	//
	// Set by [NewRunner] to [io.Discard].
	Output io.Writer

	// Sampler performs the samples.
	Sampler *Sampler

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// RunExperiment takes count samples under mode and writes the text
// report to [Runner.Output].
//
// Samples are strictly sequential: each one receives the channel the
// previous one returned. The report always holds exactly count samples;
// once ctx is done, the remaining ones are recorded as failed with the
// context error without touching the network.
func (r *Runner) RunExperiment(ctx context.Context, title string, count int, mode Mode) *ExperimentReport {
	runtimex.Assert(count >= 0)
	report := &ExperimentReport{Mode: mode, Samples: make([]SampleResult, 0, count), Title: title}

	t0 := r.TimeNow()
	r.Logger.Info(
		"experimentStart",
		slog.String("mode", mode.String()),
		slog.Int("samples", count),
		slog.Time("t", t0),
		slog.String("title", title),
	)

	var channel *SecureChannel
	for range count {
		if err := ctx.Err(); err != nil {
			report.Samples = append(report.Samples, SampleResult{Err: err, SpanID: NewSpanID()})
			continue
		}
		var result SampleResult
		result, channel = r.Sampler.PerformRequest(ctx, channel, mode.KeepAlive(), mode.ForceRenegotiate())
		report.Samples = append(report.Samples, result)
	}
	r.closeChannel(channel)

	r.Logger.Info(
		"experimentDone",
		slog.Float64("averageMs", report.MeanMilliseconds()),
		slog.String("mode", mode.String()),
		slog.Int("samples", count),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
		slog.String("title", title),
		slog.Int("validSamples", report.ValidCount()),
	)

	if err := report.WriteText(r.Output); err != nil {
		r.Logger.Warn("reportWriteFailed", slog.Any("err", err), slog.String("title", title))
	}
	return report
}

// closeChannel closes the channel left over at the end of an experiment.
//
// A nil channel (cold mode, or a keep-alive experiment whose last sample
// could not establish a channel) is skipped.
func (r *Runner) closeChannel(channel *SecureChannel) {
	if channel == nil {
		r.Logger.Debug("closeChannelSkipped")
		return
	}
	if err := channel.Close(); err != nil {
		r.Logger.Warn(
			"cleanupFailed",
			slog.Any("err", err),
			slog.String("errClass", r.ErrClassifier.Classify(err)),
		)
	}
}

// RunAll runs one experiment per mode, in the order of [AllModes], each
// taking count samples.
func (r *Runner) RunAll(ctx context.Context, count int) []*ExperimentReport {
	return r.RunModes(ctx, count, AllModes...)
}

// RunModes runs one experiment per given mode, in order, each taking
// count samples.
func (r *Runner) RunModes(ctx context.Context, count int, modes ...Mode) []*ExperimentReport {
	reports := make([]*ExperimentReport, 0, len(modes))
	for _, mode := range modes {
		reports = append(reports, r.RunExperiment(ctx, mode.Title(), count, mode))
	}
	return reports
}

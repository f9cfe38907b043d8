// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExperimentReport holds every sample taken by one experiment.
type ExperimentReport struct {
	// Mode is the connection-reuse regime.
	Mode Mode

	// Samples contains exactly one entry per attempted sample, in order.
	Samples []SampleResult

	// Title is the experiment title.
	Title string
}

// ValidLatencies returns the latencies of the valid samples, in order.
func (r *ExperimentReport) ValidLatencies() []time.Duration {
	out := []time.Duration{}
	for _, sample := range r.Samples {
		if sample.Valid() {
			out = append(out, sample.Latency)
		}
	}
	return out
}

// ValidCount returns the number of valid samples.
func (r *ExperimentReport) ValidCount() int {
	return len(r.ValidLatencies())
}

// Mean returns the arithmetic mean of the valid latencies, or zero
// when no sample is valid.
func (r *ExperimentReport) Mean() time.Duration {
	valid := r.ValidLatencies()
	if len(valid) == 0 {
		return 0
	}
	var sum time.Duration
	for _, latency := range valid {
		sum += latency
	}
	return sum / time.Duration(len(valid))
}

// MeanMilliseconds returns [*ExperimentReport.Mean] in fractional
// milliseconds, computed without intermediate rounding.
func (r *ExperimentReport) MeanMilliseconds() float64 {
	valid := r.ValidLatencies()
	if len(valid) == 0 {
		return 0
	}
	var sum float64
	for _, latency := range valid {
		sum += durationMillis(latency)
	}
	return sum / float64(len(valid))
}

// Min returns the smallest valid latency, or zero when none is valid.
func (r *ExperimentReport) Min() time.Duration {
	valid := r.ValidLatencies()
	if len(valid) == 0 {
		return 0
	}
	return slices.Min(valid)
}

// Max returns the largest valid latency, or zero when none is valid.
func (r *ExperimentReport) Max() time.Duration {
	valid := r.ValidLatencies()
	if len(valid) == 0 {
		return 0
	}
	return slices.Max(valid)
}

// Median returns the median valid latency, or zero when none is valid.
//
// With an even count it is the mean of the two middle values.
func (r *ExperimentReport) Median() time.Duration {
	valid := r.ValidLatencies()
	if len(valid) == 0 {
		return 0
	}
	slices.Sort(valid)
	mid := len(valid) / 2
	if len(valid)%2 == 0 {
		return (valid[mid-1] + valid[mid]) / 2
	}
	return valid[mid]
}

// WriteText writes the console report: the title, the valid count,
// one line per valid sample, and the average.
func (r *ExperimentReport) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s:\n", r.Title)
	fmt.Fprintf(&b, "Valid Samples: %d/%d\n", r.ValidCount(), len(r.Samples))
	for _, latency := range r.ValidLatencies() {
		fmt.Fprintf(&b, "Elapsed Time: %.2f ms\n", durationMillis(latency))
	}
	fmt.Fprintf(&b, "Average Time: %.2f ms\n", r.MeanMilliseconds())
	_, err := io.WriteString(w, b.String())
	return err
}

type yamlSample struct {
	Bytes           int         `yaml:"bytes"`
	ConnectTimeMs   float64     `yaml:"connect_time_ms"`
	Error           string      `yaml:"error,omitempty"`
	HandshakeTimeMs float64     `yaml:"handshake_time_ms"`
	LatencyMs       float64     `yaml:"latency_ms"`
	Session         SessionInfo `yaml:"session,omitempty"`
	SpanID          string      `yaml:"span_id"`
	Valid           bool        `yaml:"valid"`
}

type yamlSummary struct {
	AverageMs float64 `yaml:"average_ms"`
	MaxMs     float64 `yaml:"max_ms"`
	MedianMs  float64 `yaml:"median_ms"`
	MinMs     float64 `yaml:"min_ms"`
	Total     int     `yaml:"total"`
	Valid     int     `yaml:"valid"`
}

type yamlReport struct {
	Mode    Mode         `yaml:"mode"`
	Samples []yamlSample `yaml:"samples"`
	Summary yamlSummary  `yaml:"summary"`
	Title   string       `yaml:"title"`
}

func (r *ExperimentReport) yamlDocument() yamlReport {
	doc := yamlReport{
		Mode:    r.Mode,
		Samples: []yamlSample{},
		Summary: yamlSummary{
			AverageMs: r.MeanMilliseconds(),
			MaxMs:     durationMillis(r.Max()),
			MedianMs:  durationMillis(r.Median()),
			MinMs:     durationMillis(r.Min()),
			Total:     len(r.Samples),
			Valid:     r.ValidCount(),
		},
		Title: r.Title,
	}
	for _, sample := range r.Samples {
		entry := yamlSample{
			Bytes:           sample.Bytes,
			ConnectTimeMs:   durationMillis(sample.ConnectTime),
			HandshakeTimeMs: durationMillis(sample.HandshakeTime),
			LatencyMs:       durationMillis(sample.Latency),
			Session:         sample.Session,
			SpanID:          sample.SpanID,
			Valid:           sample.Valid(),
		}
		if sample.Err != nil {
			entry.Error = sample.Err.Error()
		}
		doc.Samples = append(doc.Samples, entry)
	}
	return doc
}

// WriteYAML writes the report as a YAML document.
func (r *ExperimentReport) WriteYAML(w io.Writer) error {
	return WriteYAMLReports(w, r)
}

// WriteYAMLReports writes each report as a document of a single YAML stream.
func WriteYAMLReports(w io.Writer, reports ...*ExperimentReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, r := range reports {
		if err := enc.Encode(r.yamlDocument()); err != nil {
			return err
		}
	}
	return enc.Close()
}

// LogFileName returns the per-experiment log file name, derived from the
// title (e.g., "Cold TCP & Cold TLS" becomes "cold_tcp_cold_tls.log").
func (r *ExperimentReport) LogFileName() string {
	var b strings.Builder
	underscore := false
	for _, ch := range strings.ToLower(r.Title) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_") + ".log"
}

// WriteLogFile writes the per-iteration timings into dir, creating dir
// when needed, and returns the path of the written file.
func (r *ExperimentReport) WriteLogFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s - Timing Measurements\n", r.Title)
	for idx, sample := range r.Samples {
		if sample.Valid() {
			fmt.Fprintf(&b, "Iteration %d: %.3f ms\n", idx+1, durationMillis(sample.Latency))
			continue
		}
		fmt.Fprintf(&b, "Iteration %d: invalid (%s)\n", idx+1, sample.Err)
	}
	fmt.Fprintf(&b, "Average: %.3f ms\n", r.MeanMilliseconds())
	path := filepath.Join(dir, r.LogFileName())
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write log file: %w", err)
	}
	return path, nil
}

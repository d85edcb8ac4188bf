// Package stats exposes live Prometheus counters for the duration of a
// run and writes the final CSV stats-file row summarizing it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/shardload/cmn/nlog"
)

// Registry holds the process-wide live counters. One instance per run;
// callers that expose a /metrics endpoint register Registry.Collectors()
// with their own promhttp handler; wiring the HTTP exposition itself is
// left to the caller.
type Registry struct {
	Routed  prometheus.Counter // documents the batcher accepted and routed
	Sealed  prometheus.Counter // batches sealed (any strategy)
	Sent    prometheus.Counter // batches successfully written
	Retries prometheus.Counter // retryable write attempts
	Rejects prometheus.Counter // per-document + non-retryable write failures
}

func NewRegistry() *Registry {
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardload",
			Name:      name,
			Help:      help,
		})
	}
	return &Registry{
		Routed:  mk("documents_routed_total", "documents accepted and routed to a chunk"),
		Sealed:  mk("batches_sealed_total", "batches sealed by any BatchBuilder strategy"),
		Sent:    mk("batches_sent_total", "batches successfully written to the cluster"),
		Retries: mk("write_retries_total", "retryable write attempts observed at the end-point layer"),
		Rejects: mk("documents_rejected_total", "documents rejected: missing key field or non-retryable write failure"),
	}
}

// Collectors returns every counter as a prometheus.Collector, for
// registration with a caller-owned registry.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.Routed, r.Sealed, r.Sent, r.Retries, r.Rejects}
}

// The Inc* methods are nil-safe so pipeline components can hold a
// *Registry that is unset in tests that don't care about stats, without
// every call site needing its own nil check.
func (r *Registry) IncRouted() {
	if r != nil {
		r.Routed.Inc()
	}
}

func (r *Registry) IncSealed() {
	if r != nil {
		r.Sealed.Inc()
	}
}

func (r *Registry) IncSent() {
	if r != nil {
		r.Sent.Inc()
	}
}

func (r *Registry) IncRetries() {
	if r != nil {
		r.Retries.Inc()
	}
}

func (r *Registry) IncRejects() {
	if r != nil {
		r.Rejects.Inc()
	}
}

// Row is one run's worth of data for the CSV stats file.
type Row struct {
	Start      time.Time
	Duration   time.Duration
	Bypass     bool // endPointSettings.directLoad
	Type       string
	InputSecs  float64
	Key        string
	Queuing    string
	QueueSize  int
	Threads    int
	EndPointConns int
	WriteConcern string
	Note       string
}

const csvHeader = "time(s), time, bypass, type, input time(s), key, queuing, queue size, threads, endpoint conns, wc, note\n"

// WriteRow appends row to path, writing the header first if the file is
// currently empty. A failure here is logged and does not affect the
// process exit status.
func WriteRow(path string, row Row) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		nlog.Warningf("stats: open %s: %v", path, err)
		return errors.Wrapf(err, "stats: open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stats: stat")
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(csvHeader); err != nil {
			return errors.Wrap(err, "stats: write header")
		}
	}

	line := formatRow(row)
	if _, err := f.WriteString(line); err != nil {
		nlog.Warningf("stats: write row: %v", err)
		return errors.Wrap(err, "stats: write row")
	}
	return nil
}

func formatRow(r Row) string {
	fields := []string{
		strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64),
		r.Start.Format("2006-01-02T15:04:05"),
		strconv.FormatBool(r.Bypass),
		r.Type,
		strconv.FormatFloat(r.InputSecs, 'f', 3, 64),
		r.Key,
		r.Queuing,
		strconv.Itoa(r.QueueSize),
		strconv.Itoa(r.Threads),
		strconv.Itoa(r.EndPointConns),
		r.WriteConcern,
		r.Note,
	}
	return strings.Join(fields, ", ") + "\n"
}

// Package nlog is a small buffered, severity-tagged logger for the loader
// process: one destination, explicit Flush, no rotation.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/shardload/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

const flushInterval = 2 * time.Second

var std = newLogger(os.Stderr)

type logger struct {
	mu      sync.Mutex
	w       *bufio.Writer
	out     io.Writer
	last    int64 // mono.NanoTime of last flush
	minSev  severity
	flushed bool
}

func newLogger(w io.Writer) *logger {
	return &logger{w: bufio.NewWriterSize(w, 32*1024), out: w, last: mono.NanoTime()}
}

// SetOutput redirects the process-wide logger, e.g. to a run's log file.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.w = bufio.NewWriterSize(w, 32*1024)
	std.out = w
	std.mu.Unlock()
}

// SetVerbosity sets the minimum severity that reaches the writer: quiet
// drops info lines and keeps warnings and errors; otherwise (the default)
// everything is logged.
func SetVerbosity(quiet bool) {
	std.mu.Lock()
	if quiet {
		std.minSev = sevWarn
	} else {
		std.minSev = sevInfo
	}
	std.mu.Unlock()
}

func Infof(format string, args ...any)    { std.logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { std.logln(sevInfo, args...) }
func Warningf(format string, args ...any) { std.logf(sevWarn, format, args...) }
func Warningln(args ...any)               { std.logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { std.logf(sevErr, format, args...) }
func Errorln(args ...any)                 { std.logln(sevErr, args...) }

// Flush writes any buffered lines to the underlying writer.
func Flush() { std.flush() }

func (l *logger) logf(sev severity, format string, args ...any) {
	if sev < l.minSev {
		return
	}
	line := fmt.Sprintf(format, args...)
	l.write(sev, line)
}

func (l *logger) logln(sev severity, args ...any) {
	if sev < l.minSev {
		return
	}
	l.write(sev, strings.TrimRight(fmt.Sprintln(args...), "\n"))
}

func (l *logger) write(sev severity, line string) {
	_, file, ln, ok := runtime.Caller(3)
	if ok {
		if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
			file = file[idx+1:]
		}
	} else {
		file, ln = "???", 0
	}
	now := time.Now()
	l.mu.Lock()
	fmt.Fprintf(l.w, "%c %s %s:%d] %s\n", sevChar[sev], now.Format("15:04:05.000"), file, ln, line)
	due := mono.NanoTime()-l.last > int64(flushInterval) || sev >= sevWarn
	if due {
		l.w.Flush()
		l.last = mono.NanoTime()
	}
	l.mu.Unlock()
}

func (l *logger) flush() {
	l.mu.Lock()
	l.w.Flush()
	l.mu.Unlock()
}

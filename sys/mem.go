package sys

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const meminfoPath = "/proc/meminfo"

// FreeRAM reads free system RAM, in bytes, from /proc/meminfo on each
// call. It backs the `_ramMax` threshold the `disk` BatchBuilder strategy
// spills against; the batch package samples it once per run: mid-load RAM
// pressure is the disk strategy's problem to react to, not this
// function's to track.
func FreeRAM() (uint64, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var memFree, cached, buffers uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemAvailable:"):
			if v, ok := parseKB(line); ok {
				return v, nil // cgroup/kernel's own estimate, prefer it outright
			}
		case strings.HasPrefix(line, "MemFree:"):
			memFree, _ = parseKB(line)
		case strings.HasPrefix(line, "Cached:"):
			cached, _ = parseKB(line)
		case strings.HasPrefix(line, "Buffers:"):
			buffers, _ = parseKB(line)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return memFree + cached + buffers, nil
}

func parseKB(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	kb, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return kb * 1024, true
}

func init() {
	// record, once, whether /proc/meminfo is unreadable on a platform this
	// loader hasn't been ported to; FreeRAMOrDefault then falls back to a
	// conservative default rather than panicking mid-load.
	if _, err := FreeRAM(); err != nil {
		fallbackRAMErr = fmt.Errorf("sys: FreeRAM unavailable, disk-spill threshold defaults to %d bytes: %w",
			defaultRAMMax, err)
	}
}

const defaultRAMMax = 2 << 30 // 2GiB

var fallbackRAMErr error

// FreeRAMOrDefault is what callers outside of tests should use: never
// fails the load over a missing /proc/meminfo (e.g. non-Linux dev boxes).
func FreeRAMOrDefault() uint64 {
	if v, err := FreeRAM(); err == nil {
		return v
	}
	return defaultRAMMax
}

// LastRAMSampleErr reports the one-shot error observed at init, if any, so
// the loader can log it once instead of retrying every disk-strategy check.
func LastRAMSampleErr() error { return fallbackRAMErr }

// DiskFree reports available bytes on the filesystem backing path. The
// disk BatchBuilder strategy calls this once at chunk-builder construction
// to warn early when a workPath is already nearly full.
func DiskFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

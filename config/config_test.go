package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := `
# a comment line
bind 127.0.0.1
port 6399
appendonly yes
appendfilename appendonly.aof
slave-read-only no
slowlog-log-slower-than 250
slowlog-max-len 64
`
	properties := parse(strings.NewReader(src))
	require.Equal(t, "127.0.0.1", properties.Bind)
	require.Equal(t, 6399, properties.Port)
	require.True(t, properties.AppendOnly)
	require.Equal(t, "appendonly.aof", properties.AppendFilename)
	require.False(t, properties.SlaveReadOnly)
	require.Equal(t, 250, properties.SlowlogLogSlowerThan)
	require.Equal(t, 64, properties.SlowlogMaxLen)
}

func TestParseDefaults(t *testing.T) {
	properties := parse(strings.NewReader(""))
	require.Equal(t, 16, properties.Databases)
	require.True(t, properties.SlaveReadOnly)
	require.Equal(t, 10000, properties.SlowlogLogSlowerThan)
	require.Equal(t, 128, properties.SlowlogMaxLen)
	require.Equal(t, FsyncEverySec, properties.AppendFsync)
}

func TestMutableConfigs(t *testing.T) {
	require.True(t, IsMutableConfig("slowlog-max-len"))
	require.True(t, IsMutableConfig("SLOWLOG-LOG-SLOWER-THAN"))
	require.False(t, IsMutableConfig("bind"))
	require.False(t, IsMutableConfig("databases"))
}

func TestCopyProperties(t *testing.T) {
	cp := CopyProperties()
	cp.SlowlogMaxLen = Properties.SlowlogMaxLen + 1
	require.NotEqual(t, Properties.SlowlogMaxLen, cp.SlowlogMaxLen)
}

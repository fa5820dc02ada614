package ds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppInfo(t *testing.T) {
	info := NewAppInfo("throwserver").
		WithVersion("1.2.0").
		WithBuildCommit("abc123").
		WithBuildTime("2024-01-01").
		WithBuildOS("linux")

	assert.Equal(t, "throwserver", info.Name())
	assert.Equal(t, "throwserver@1.2.0 (Commit: abc123)", info.String())
	assert.Equal(t, map[string]interface{}{
		"app":        "throwserver",
		"version":    "1.2.0",
		"commit":     "abc123",
		"build_time": "2024-01-01",
		"build_os":   "linux",
	}, info.Fields())
	assert.GreaterOrEqual(t, info.Uptime(), time.Duration(0))
}

func TestAppInfoDevVersion(t *testing.T) {
	assert.Equal(t, "throwclient@dev (Commit: )", NewAppInfo("throwclient").String())
}

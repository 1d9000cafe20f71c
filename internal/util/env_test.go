package util_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/ulfberto/zerocloud/internal/util"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ZC_TEST_STRING", "  node-a ")
	t.Setenv("ZC_TEST_BOOL", "yes")
	t.Setenv("ZC_TEST_BAD_BOOL", "maybe")
	t.Setenv("ZC_TEST_INT", "42")
	t.Setenv("ZC_TEST_BAD_INT", "forty")
	t.Setenv("ZC_TEST_FLOAT", "0.25")
	t.Setenv("ZC_TEST_DURATION", "250ms")
	t.Setenv("ZC_TEST_LIST", "a, b,,c")

	assert.Equal(t, "node-a", util.GetEnvString("ZC_TEST_STRING", "x"))
	assert.Equal(t, "x", util.GetEnvString("ZC_TEST_UNSET", "x"))
	assert.True(t, util.GetEnvBool("ZC_TEST_BOOL", false))
	assert.True(t, util.GetEnvBool("ZC_TEST_BAD_BOOL", true))
	assert.Equal(t, 42, util.GetEnvAsInt("ZC_TEST_INT", 1))
	assert.Equal(t, 1, util.GetEnvAsInt("ZC_TEST_BAD_INT", 1))
	assert.InDelta(t, 0.25, util.GetEnvFloat("ZC_TEST_FLOAT", 1), 1e-9)
	assert.Equal(t, 250*time.Millisecond, util.GetEnvDuration("ZC_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, util.GetEnvAsStringArr("ZC_TEST_LIST", nil))
	assert.Equal(t, []string{"d"}, util.GetEnvAsStringArr("ZC_TEST_UNSET", []string{"d"}))
}

func TestLogLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, util.LogLevelFromString("warn"))
	assert.Equal(t, zerolog.DebugLevel, util.LogLevelFromString("loud"))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpersFallBackToDefault(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("TRADECORE_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, getEnvAsInt("TRADECORE_TEST_MISSING", 42))
	assert.Equal(t, true, getEnvAsBool("TRADECORE_TEST_MISSING", true))
	assert.Equal(t, 1.5, getEnvAsFloat("TRADECORE_TEST_MISSING", 1.5))
	assert.Equal(t, 2*time.Second, getEnvAsDuration("TRADECORE_TEST_MISSING", 2*time.Second))
}

func TestGetEnvHelpersParseSetValues(t *testing.T) {
	t.Setenv("TRADECORE_TEST_STR", "hello")
	t.Setenv("TRADECORE_TEST_INT", "7")
	t.Setenv("TRADECORE_TEST_BOOL", "true")
	t.Setenv("TRADECORE_TEST_FLOAT", "3.14")
	t.Setenv("TRADECORE_TEST_DUR", "250ms")

	assert.Equal(t, "hello", getEnv("TRADECORE_TEST_STR", "x"))
	assert.Equal(t, 7, getEnvAsInt("TRADECORE_TEST_INT", 0))
	assert.Equal(t, true, getEnvAsBool("TRADECORE_TEST_BOOL", false))
	assert.Equal(t, 3.14, getEnvAsFloat("TRADECORE_TEST_FLOAT", 0))
	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("TRADECORE_TEST_DUR", 0))
}

func TestGetEnvAsIntIgnoresUnparseableValue(t *testing.T) {
	t.Setenv("TRADECORE_TEST_BADINT", "not-a-number")
	assert.Equal(t, 9, getEnvAsInt("TRADECORE_TEST_BADINT", 9), "want fallback 9 on parse error")
}

func TestValidateRequiresDatabasePathAndBusURL(t *testing.T) {
	c := &Config{}
	require.Error(t, c.Validate(), "expected error with empty DatabasePath and BusURL")

	c.DatabasePath = "./data.db"
	require.Error(t, c.Validate(), "expected error with empty BusURL")

	c.BusURL = "amqp://localhost"
	assert.NoError(t, c.Validate())
}

package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, Field{Key: "host", Value: "crm.test"}, String("host", "crm.test"))
	assert.Equal(t, Field{Key: "attempt", Value: 3}, Int("attempt", 3))

	err := fmt.Errorf("boom")
	assert.Equal(t, Field{Key: "error", Value: err}, Err(err))
}

func TestGlobalLogger(t *testing.T) {
	assert.NotNil(t, GetGlobalLogger())

	custom := NewDefaultLogger()
	SetGlobalLogger(custom)
	assert.Same(t, custom, GetGlobalLogger())
}

func TestWithFieldsReturnsIndependentLogger(t *testing.T) {
	base := NewDefaultLogger()
	derived := base.WithFields(String("component", "crm"))
	assert.NotSame(t, base, derived)
	assert.Same(t, derived, derived.WithFields())
}

package utils

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewLogger("DEBUG", "json").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, NewLogger("warn", "console").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("loud", "json").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("", "json").GetLevel())
}

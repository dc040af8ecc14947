package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_SetLevel(t *testing.T) {
	logger := NewLogger(LevelInfo)
	assert.Equal(t, LevelInfo, logger.level)

	logger.SetLevel(LevelError)
	assert.Equal(t, LevelError, logger.level)
}

func TestGetLogger_DefaultsToInfo(t *testing.T) {
	globalLogger = nil
	logger := GetLogger()
	assert.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.level)
}

func TestLevelNames_CoverAllLevels(t *testing.T) {
	for _, level := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		assert.NotEmpty(t, levelNames[level])
	}
}

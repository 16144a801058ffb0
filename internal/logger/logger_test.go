package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mediaforge/mediaforge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("production", &buf)

	log.Info().Str("prediction_id", "p1").Msg("stored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "mediaforge", line["service"])
	assert.Equal(t, "p1", line["prediction_id"])
}

func TestNew_ProductionSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("production", &buf)

	log.Debug().Msg("noisy")
	assert.Empty(t, buf.String())
}

func TestNew_DevelopmentEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("development", &buf)

	log.Debug().Msg("noisy")
	assert.Contains(t, buf.String(), "noisy")
}

package telemetry

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{LogLevel: "info", LogFormat: "pretty"}},
		{name: "json debug", cfg: Config{LogLevel: "DEBUG", LogFormat: "JSON"}},
		{name: "invalid level", cfg: Config{LogLevel: "loud", LogFormat: "json"}, wantErr: true},
		{name: "invalid format", cfg: Config{LogLevel: "info", LogFormat: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOptions_ApplyAndValidate(t *testing.T) {
	t.Parallel()

	opts := newDefaultOptions()
	require.Error(t, opts.validate(), "defaults must force callers to set a service name")

	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	cfg.applyToOptions(&opts)
	opts.apply(Options{ServiceName: "archecs", LogLevel: "debug"})

	require.NoError(t, opts.validate())
	assert.Equal(t, "archecs", opts.ServiceName)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, LogFormatJSON, opts.LogFormat)
}

func TestTelemetry_GetLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tel := Telemetry{
		Logger:      newLogger(Options{LogLevel: "info", LogFormat: LogFormatJSON, Output: &buf}),
		serviceName: "archecs",
	}

	logger := tel.GetLogger("engine")
	logger.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "archecs.engine", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogFormatJSON, ParseLogFormat("json"))
	assert.Equal(t, LogFormatPretty, ParseLogFormat("Pretty"))
	assert.Equal(t, LogFormatUndefined, ParseLogFormat(""))
	assert.Equal(t, "pretty", LogFormatPretty.String())
}

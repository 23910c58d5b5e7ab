package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "FLAG_THRESHOLD", "75")
	setEnv(t, "TWILIO_ACCOUNT_SID", "")
	setEnv(t, "TWILIO_AUTH_TOKEN", "")
	setEnv(t, "TWILIO_FROM", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 75.0, cfg.FlagThreshold)
	assert.Equal(t, DefaultScoringExchange, cfg.ScoringExchange)
	assert.Equal(t, DefaultScoringQueue, cfg.ScoringQueue)
	assert.Equal(t, DefaultAlertLookback, cfg.AlertLookback)
	assert.Equal(t, DefaultTwilioBaseURL, cfg.TwilioBaseURL)
	assert.False(t, cfg.SMSEnabled())
}

func TestLoad_PartialTwilioCredentials(t *testing.T) {
	setEnv(t, "TWILIO_ACCOUNT_SID", "AC123")
	setEnv(t, "TWILIO_AUTH_TOKEN", "")
	setEnv(t, "TWILIO_FROM", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid config",
			config:  Config{FlagThreshold: 50, AlertLookback: 5},
			wantErr: "",
		},
		{
			name:    "negative flag threshold",
			config:  Config{FlagThreshold: -1, AlertLookback: 5},
			wantErr: "FLAG_THRESHOLD",
		},
		{
			name:    "zero alert lookback",
			config:  Config{FlagThreshold: 50, AlertLookback: 0},
			wantErr: "ALERT_LOOKBACK",
		},
		{
			name: "full twilio credentials",
			config: Config{
				FlagThreshold:    50,
				AlertLookback:    5,
				TwilioAccountSID: "AC123",
				TwilioAuthToken:  "token",
				TwilioFrom:       "+15550001111",
			},
			wantErr: "",
		},
		{
			name: "partial twilio credentials",
			config: Config{
				FlagThreshold:    50,
				AlertLookback:    5,
				TwilioAccountSID: "AC123",
			},
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_SMSEnabled(t *testing.T) {
	cfg := &Config{
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFrom:       "+15550001111",
	}
	assert.True(t, cfg.SMSEnabled())

	cfg.TwilioAuthToken = ""
	assert.False(t, cfg.SMSEnabled())
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.75")

	assert.Equal(t, 0.75, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 1.5, getEnvFloat("NONEXISTENT_VAR", 1.5))
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseVenues tests the COFFER_VENUES entry format
func TestParseVenues(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []VenueConfig
		wantErr  bool
	}{
		{
			name: "single static venue",
			raw:  "sim-lend=static:450",
			expected: []VenueConfig{
				{Name: "sim-lend", Kind: VenueKindStatic, RateBps: 450},
			},
		},
		{
			name: "mixed kinds",
			raw:  "sim-lend=static:450;compound=rest:http://venue.host:9020",
			expected: []VenueConfig{
				{Name: "sim-lend", Kind: VenueKindStatic, RateBps: 450},
				{Name: "compound", Kind: VenueKindRest, BaseURL: "http://venue.host:9020"},
			},
		},
		{
			name: "whitespace and empty entries tolerated",
			raw:  " sim-lend=static:450 ; ",
			expected: []VenueConfig{
				{Name: "sim-lend", Kind: VenueKindStatic, RateBps: 450},
			},
		},
		{name: "missing kind separator", raw: "sim-lend=450", wantErr: true},
		{name: "missing name separator", raw: "static:450", wantErr: true},
		{name: "unknown kind", raw: "sim-lend=magic:450", wantErr: true},
		{name: "non-numeric static rate", raw: "sim-lend=static:high", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVenues(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// TestConfigValidate tests the cross-field validation rules
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Venues: []VenueConfig{
				{Name: "sim-lend", Kind: VenueKindStatic, RateBps: 450},
			},
			Scoring: ScoringConfig{
				APYWeight:        0.40,
				RiskWeight:       0.30,
				VolatilityWeight: 0.20,
				ConfidenceWeight: 0.10,
				HysteresisMargin: 5.0,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"no venues", func(c *Config) { c.Venues = nil }, true},
		{"duplicate venue names", func(c *Config) {
			c.Venues = append(c.Venues, c.Venues[0])
		}, true},
		{"negative static rate", func(c *Config) { c.Venues[0].RateBps = -1 }, true},
		{"rest venue without URL", func(c *Config) {
			c.Venues[0] = VenueConfig{Name: "compound", Kind: VenueKindRest}
		}, true},
		{"weights do not sum to one", func(c *Config) { c.Scoring.APYWeight = 0.50 }, true},
		{"negative hysteresis", func(c *Config) { c.Scoring.HysteresisMargin = -1 }, true},
		{"backup enabled without endpoint", func(c *Config) { c.Backup.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

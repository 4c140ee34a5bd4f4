package batch

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Empty(t, cfg.OutputDir)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "json", mutate: func(c *Config) { c.Format = FormatJSON }},
		{name: "csv", mutate: func(c *Config) { c.Format = FormatCSV }},
		{name: "no inputs", mutate: func(c *Config) { c.Inputs = nil }, wantErr: "no input paths"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: "workers must be at least 1"},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "unsupported format"},
		{name: "bad include", mutate: func(c *Config) { c.Include = []string{"["} }, wantErr: "invalid pattern"},
		{name: "bad exclude", mutate: func(c *Config) { c.Exclude = []string{"a[b"} }, wantErr: "invalid pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Inputs = []string{"."}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

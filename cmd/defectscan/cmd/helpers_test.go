package cmd

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/defectscan/internal/config"
	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testDefect = image.Rect(100, 100, 160, 140)

// stubModels replaces ONNX loading with blob models for the test.
func stubModels(t *testing.T) {
	t.Helper()
	orig := loadDetector
	loadDetector = func(mc detector.ModelConfig) (*detector.Detector, error) {
		return detector.New(mc.Version, testutil.NewBlobModel(), mc.Params)
	}
	t.Cleanup(func() { loadDetector = orig })
}

// writeTestConfig writes a config rooted in dir and returns its path.
func writeTestConfig(t *testing.T, dir string, mutate ...func(*config.Config)) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ModelsDir = filepath.Join(dir, "models")
	cfg.LogLevel = "error"
	cfg.Database.Path = filepath.Join(dir, "data", "test.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.TmpDir = filepath.Join(dir, "tmp")
	cfg.Storage.DownloadFile = ""
	cfg.Auth.JWTSecret = "cmd-test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Batch.OutputDir = filepath.Join(dir, "results")
	cfg.Client.TokenFile = ""
	for _, m := range mutate {
		m(&cfg)
	}

	path := filepath.Join(dir, "defectscan.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, config.WriteYAML(f, &cfg))
	return path
}

// writeDefectImage saves a 640x480 image with one defect.
func writeDefectImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.SaveImage(t, testutil.CreateDefectImage(640, 480, testDefect), path)
	return path
}

// resetCommandState clears flag values and global config between runs of
// the shared root command.
func resetCommandState(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetCommandState(sub)
	}
}

// executeCommand runs the root command with args and returns stdout and
// stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetCommandState(rootCmd)
	viper.Reset()
	bindGlobalFlags()
	globalConfig, configLoader = nil, nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

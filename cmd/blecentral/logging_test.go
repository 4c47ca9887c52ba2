package main

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	warn := logrus.WarnLevel

	tests := []struct {
		name      string
		args      []string
		fileLevel *logrus.Level
		want      logrus.Level
		wantErr   string
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "verbose enables debug", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "log-level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, want: logrus.ErrorLevel},
		{name: "config file level applies", fileLevel: &warn, want: logrus.WarnLevel},
		{name: "verbose wins over config file", args: []string{"--verbose"}, fileLevel: &warn, want: logrus.DebugLevel},
		{name: "rejects unknown level", args: []string{"--log-level", "trace"}, wantErr: "invalid log level: trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoggingCmd(tt.args...)

			logger, err := configureLogger(cmd, "verbose", tt.fileLevel)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_WritesToCommandStderr(t *testing.T) {
	var stderr bytes.Buffer
	cmd := newLoggingCmd("--log-level", "info")
	cmd.SetErr(&stderr)

	logger, err := configureLogger(cmd, "verbose", nil)
	require.NoError(t, err)

	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok, "command logger MUST use the config text formatter")
	assert.True(t, formatter.FullTimestamp)

	logger.WithField("device", "AA:01").Info("Device found")
	assert.Contains(t, stderr.String(), "Device found")
	assert.Contains(t, stderr.String(), "device=AA:01")
}

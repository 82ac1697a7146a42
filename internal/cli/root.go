// Package cli implements the carelog commands.
package cli

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/carelog/internal/config"
	"github.com/tjfontaine/carelog/internal/runtime"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "carelog",
	Short:        "Health message interpretation and credit metering",
	Long:         "carelog turns free-form health messages into structured readings and meters paid features with a credit ledger.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CARELOG_CONFIG or config.yaml)")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("CARELOG_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath
}

// newLogger writes JSON logs to w at a level the returned LevelVar
// controls.
func newLogger(w io.Writer, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})), lv
}

// openApp builds the service for offline commands. Logs go to stderr so
// stdout stays parseable.
func openApp(cmd *cobra.Command) (*runtime.App, error) {
	logger, _ := newLogger(cmd.ErrOrStderr(), slog.LevelWarn)
	return runtime.New(
		runtime.WithConfigFile(getConfigPath()),
		runtime.WithLogger(logger),
	)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

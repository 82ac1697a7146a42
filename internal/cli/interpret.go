package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "interpret TEXT...",
		Short: "Interpret a message and print the reading",
		Long:  "Runs the same pattern and model interpretation as POST /v1/interpret. No credits are charged.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runInterpret,
	}

	RootCmd.AddCommand(cmd)
}

func runInterpret(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	reading := app.Interpreter().InterpretMessage(cmd.Context(), strings.Join(args, " "))
	return printJSON(cmd, reading)
}

// Package parleycmder
package parleycmder

import (
	"github.com/spf13/cobra"

	servecmder "github.com/parleyhq/parley/cmd/parley/serve"
	versioncmder "github.com/parleyhq/parley/cmd/version"
)

const parleyLongDesc string = `Parley is a voice and text chat relay.

It sits between a browser UI, a whisper-based transcription service and
an OpenAI-compatible completion backend:

  parley serve    Run the relay server`

const parleyShortDesc string = "Parley - Voice Chat Relay"

func NewParleyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parley",
		Short: parleyShortDesc,
		Long:  parleyLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

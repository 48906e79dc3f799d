// Package commands implements the enginectl command tree.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/edgehive/engine-runner/cmd/enginectl/client"
)

var (
	engineClient *client.Client

	sockFlag string
	hostFlag string
)

const defaultSocket = "/run/engine-runner.sock"

// NewRootCmd builds the enginectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "enginectl",
		Short:         "Control the on-device engine runner service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			engineClient = client.New(sockFlag, hostFlag)
		},
	}

	root.PersistentFlags().StringVar(&sockFlag, "sock", envOr("ENGINE_RUNNER_SOCK", defaultSocket),
		"unix socket the service listens on")
	root.PersistentFlags().StringVar(&hostFlag, "host", os.Getenv("ENGINE_RUNNER_HOST"),
		"TCP host:port of the service (overrides --sock)")

	root.AddCommand(
		newStatusCmd(),
		newPSCmd(),
		newChatCmd(),
		newTranscribeCmd(),
		newSayCmd(),
		newGuardCmd(),
		newSettingsCmd(),
		newUnloadCmd(),
		newModelsCmd(),
		newCancelCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

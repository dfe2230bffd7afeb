// Package commands implements the townready operator CLI
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka0519/TownReady/internal/constants"
	"github.com/naka0519/TownReady/pkg/api/v1/client"
	"github.com/naka0519/TownReady/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagID            = "id"
	flagTask          = "task"
	flagPayloadFile   = "payload-file"
)

// newClient builds the API client once the server address is known. Tests
// replace it with a mock.
var newClient = func(baseURL string) (client.Client, error) {
	opts := client.DefaultOptions()
	opts.BaseURL = baseURL
	return client.NewClient(opts)
}

// session is the state shared by the commands of one invocation
type session struct {
	serverAddress string
	api           client.Client
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	s := &session{}

	root := &cobra.Command{
		Use:   "townready",
		Short: "TownReady CLI - operate drill generation jobs through the worker API",
		Long: `TownReady CLI creates drill generation jobs, inspects their progress and
re-publishes task triggers for jobs that need manual remediation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Flag > Env Var > Default
			if !cmd.Flags().Changed(flagServerAddress) {
				if envAddr := os.Getenv(constants.EnvServerAddress); envAddr != "" {
					s.serverAddress = envAddr
				}
			}
			if s.serverAddress == "" {
				return fmt.Errorf("server address cannot be empty")
			}

			var err error
			s.api, err = newClient(s.serverAddress)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&s.serverAddress, flagServerAddress, "s", routes.DefaultBaseURL,
		fmt.Sprintf("Address of the TownReady API server (env: %s)", constants.EnvServerAddress))

	root.AddCommand(newJobsCmd(s))
	return root
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

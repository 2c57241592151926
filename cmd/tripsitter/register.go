package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/tripsitter/internal/api"
	"github.com/spf13/cobra"
)

var (
	registerName        string
	registerDescription string
)

var registerCmd = &cobra.Command{
	Use:   "register-agent",
	Short: "Create an agent and print its API key",
	Long: `Create a registered agent directly in the database. The API key is printed
once and cannot be recovered later.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		name := strings.TrimSpace(registerName)
		if name == "" {
			return errors.New("--name is required")
		}

		repo, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		agent, err := api.NewAgent(cmd.Context(), repo, name, strings.TrimSpace(registerDescription))
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "id:      %s\nname:    %s\napi_key: %s\n", agent.ID, agent.Name, agent.Key)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Agent display name")
	registerCmd.Flags().StringVar(&registerDescription, "description", "", "Optional agent description")
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
)

func newSettingsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or update persisted engine settings",
	}
	c.AddCommand(newSettingsGetCmd(), newSettingsSetCmd())
	return c
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the persisted settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := engineClient.Settings(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(current, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		filePath string
		selects  []string
	)
	c := &cobra.Command{
		Use:   "set",
		Short: "Update settings from a JSON file or --select CAPABILITY=runner pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" && len(selects) == 0 {
				return fmt.Errorf("nothing to set: provide --file or --select")
			}

			snapshot, err := engineClient.Settings(cmd.Context())
			if err != nil {
				return err
			}
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				snapshot = settings.Empty()
				if err := json.Unmarshal(data, &snapshot); err != nil {
					return fmt.Errorf("parsing %s: %w", filePath, err)
				}
			}
			for _, pair := range selects {
				capName, runner, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("malformed --select %q: want CAPABILITY=runner", pair)
				}
				capability, err := engine.ParseCapability(strings.ToUpper(capName))
				if err != nil {
					return err
				}
				if snapshot.SelectedRunners == nil {
					snapshot.SelectedRunners = make(map[engine.Capability]string)
				}
				snapshot.SelectedRunners[capability] = runner
			}

			outcome, err := engineClient.SaveSettings(cmd.Context(), snapshot)
			if err != nil {
				return err
			}
			if len(outcome.Reloaded) > 0 {
				cmd.Printf("Reloaded: %s\n", strings.Join(outcome.Reloaded, ", "))
			}
			for name, ferr := range outcome.Failed {
				cmd.Printf("Failed: %s: %s\n", name, ferr.Message)
			}
			if len(outcome.Reloaded) == 0 && len(outcome.Failed) == 0 {
				cmd.Println("Saved; no loaded runner was affected")
			}
			return nil
		},
	}
	c.Flags().StringVarP(&filePath, "file", "f", "", "JSON settings document to apply")
	c.Flags().StringArrayVar(&selects, "select", nil, "capability=runner override, repeatable")
	return c
}

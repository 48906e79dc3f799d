package commands

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgehive/engine-runner/cmd/enginectl/client"
	"github.com/edgehive/engine-runner/pkg/engine/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := engineClient.State(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(formatState(st))
			return nil
		},
	}
}

func formatState(st state.State) string {
	switch st.Kind {
	case state.KindProcessing:
		return fmt.Sprintf("processing (%d in flight)", st.ActiveCount)
	case state.KindDownloading:
		if st.Download != nil {
			return fmt.Sprintf("downloading %s (%d%%)", st.Download.ID, st.Download.Percent)
		}
		return "downloading"
	case state.KindError:
		if st.Error != nil {
			return fmt.Sprintf("error: %s (recoverable=%v)", st.Error.Message, st.Error.Recoverable)
		}
		return "error"
	default:
		return "ready"
	}
}

func newPSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List registered runners",
		RunE: func(cmd *cobra.Command, args []string) error {
			runners, err := engineClient.Runners(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Print(runnerTable(runners))
			return nil
		},
	}
}

func runnerTable(runners []client.RunnerSummary) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVENDOR\tCAPABILITIES\tLOADED\tMODEL\tIN-FLIGHT\tDEFAULT FOR")
	for _, r := range runners {
		caps := make([]string, 0, len(r.Capabilities))
		for _, c := range r.Capabilities {
			caps = append(caps, c.String())
		}
		defaults := make([]string, 0, len(r.DefaultFor))
		for _, c := range r.DefaultFor {
			defaults = append(defaults, c.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%d\t%s\n",
			r.Name, r.Vendor, strings.Join(caps, ","), r.Loaded, orDash(r.ModelID),
			r.InFlight, orDash(strings.Join(defaults, ",")))
	}
	w.Flush()
	return buf.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			handles, err := engineClient.Models(cmd.Context())
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFORMAT\tSIZE\tARCHITECTURE\tPARAMETERS")
			for _, h := range handles {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					h.ID, h.Format, formatSize(h.SizeBytes), orDash(h.Architecture), orDash(h.Parameters))
			}
			w.Flush()
			cmd.Print(buf.String())
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel REQUEST_ID",
		Short: "Cancel an in-flight request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := engineClient.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Cancelled %s\n", args[0])
			return nil
		},
	}
}

func newUnloadCmd() *cobra.Command {
	var runner string
	c := &cobra.Command{
		Use:   "unload",
		Short: "Unload loaded models (all runners, or one with --runner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runner != "" {
				if err := engineClient.UnloadRunner(cmd.Context(), runner); err != nil {
					return err
				}
				cmd.Printf("Unloaded %s\n", runner)
				return nil
			}
			n, err := engineClient.UnloadAll(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Unloaded %d runner(s)\n", n)
			return nil
		},
	}
	c.Flags().StringVar(&runner, "runner", "", "unload only this runner")
	return c
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ondisk/tablexn/internal/recovery"
)

func newRecoverCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resolve every leftover transaction log in the table directory",
		Long: "Scans the table directory for transaction logs left behind by a crash, " +
			"resolves each one's committed/aborted/rolled-back fate, and deletes the " +
			"table files that resolution makes garbage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			result, runErr := recovery.Run(e.fs, e.cfg.TableDir(), e.ti)

			if jsonOutput {
				return printRecoveryJSON(result, runErr)
			}
			printRecoveryText(result)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON")
	return cmd
}

type recoveryLogJSON struct {
	Name        string `json:"name"`
	Disposition string `json:"disposition"`
	Error       string `json:"error,omitempty"`
}

func printRecoveryJSON(result recovery.Result, runErr error) error {
	out := struct {
		Logs  []recoveryLogJSON `json:"logs"`
		Error string            `json:"error,omitempty"`
	}{}
	for _, lr := range result.Logs {
		j := recoveryLogJSON{Name: lr.Name, Disposition: string(lr.Disposition)}
		if lr.Err != nil {
			j.Error = lr.Err.Error()
		}
		out.Logs = append(out.Logs, j)
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printRecoveryText(result recovery.Result) {
	if len(result.Logs) == 0 {
		fmt.Println("no leftover transaction logs found")
		return
	}
	for _, lr := range result.Logs {
		if lr.Err != nil {
			fmt.Printf("%s: %s (error: %v)\n", lr.Name, lr.Disposition, lr.Err)
			continue
		}
		fmt.Printf("%s: %s\n", lr.Name, lr.Disposition)
	}
}

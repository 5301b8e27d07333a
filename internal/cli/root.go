package cli

import "github.com/spf13/cobra"

// NewRoot builds the txnlogctl command tree.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "txnlogctl",
		Short: "Inspect and maintain a tablexn transaction log directory",
		RunE:  func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newListLogsCmd())
	cmd.AddCommand(newListTempCmd())
	cmd.AddCommand(newGCCmd())
	return cmd
}

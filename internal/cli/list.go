package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondisk/tablexn/internal/recovery"
	"github.com/ondisk/tablexn/internal/txndata"
)

func newListLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-logs",
		Short: "List every transaction log file in the table directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			names, err := txndata.ListLogNames(e.fs, e.cfg.TableDir())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no transaction logs found")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func newListTempCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-temp",
		Short: "List table files an incomplete or committed log marks temporary",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			names, err := recovery.ListTemporaryFiles(e.fs, e.cfg.TableDir())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no temporary files found")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

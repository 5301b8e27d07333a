package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Manage the tidier's deletion retry queue",
	}
	cmd.AddCommand(newGCRescheduleCmd())
	cmd.AddCommand(newGCWaitCmd())
	cmd.AddCommand(newGCPurgeFailedCmd())
	cmd.AddCommand(newGCStatusCmd())
	return cmd
}

func newGCStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the tidier's current retry-queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			s := e.ti.Snapshot()
			fmt.Printf("queue depth:          %d\n", s.QueueDepth)
			fmt.Printf("delete success:       %d\n", s.DeleteSuccess)
			fmt.Printf("delete failed:        %d\n", s.DeleteFailed)
			fmt.Printf("delete retried:       %d\n", s.DeleteRetried)
			fmt.Printf("purged:               %d\n", s.Purged)
			fmt.Printf("disk usage decremented: %d\n", s.DiskUsageDecremented)
			fmt.Printf("disk usage skipped:     %d\n", s.DiskUsageSkipped)
			return nil
		},
	}
}

func newGCRescheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule",
		Short: "Retry every queued deletion immediately, ignoring backoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			e.ti.RescheduleFailedDeletions()
			fmt.Println("rescheduled all queued deletions")
			return nil
		},
	}
}

func newGCWaitCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Run one forced retry pass and block until it finishes or the timeout elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := e.ti.WaitForDeletions(ctx); err != nil {
				return fmt.Errorf("retry pass did not finish within %s: %w", timeout, err)
			}
			fmt.Printf("retry pass finished, %d deletion(s) still queued\n", e.ti.Snapshot().QueueDepth)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait before giving up")
	return cmd
}

func newGCPurgeFailedCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge-failed",
		Short: "Discard every queued deletion without retrying it again",
		Long: "Drops every entry in the retry queue permanently. Use this only after " +
			"confirming the underlying files are already gone or are otherwise " +
			"unreachable; the queue does not remember a purged entry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			depth := e.ti.Snapshot().QueueDepth
			if depth == 0 {
				fmt.Println("retry queue is already empty")
				return nil
			}

			if !yes {
				confirmed, err := confirmPurge(depth)
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("aborted, nothing purged")
					return nil
				}
			}

			n := e.ti.PurgeFailed()
			fmt.Printf("purged %d queued deletion(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirmPurge(depth int) (bool, error) {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Purge %d queued deletion(s) permanently", depth),
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if err != nil {
		// promptui.Prompt.Run returns ErrAbort on "no"; any other answer
		// besides y/Y is also treated as a decline, not a hard failure.
		return false, nil
	}
	return true, nil
}

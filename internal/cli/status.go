package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/model"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <work-item> <status>",
		Short: "Change a work item's status and mirror it to the tracker",
		Long: `Set the local status of a work item and push the mapped status to its
remote object.

The local change is applied first and never rolled back. An item that is not
yet linked has its subtree reconciled before the update. When the tracker
rejects the update the outcome is "deferred" and a note is left on the work
item; the next reconcile will retry it.

Statuses: pending, active, blocked, in_review, done, cancelled.

Examples:
  treesync status T1.2 done
  treesync status T3 in-review --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runStatus(opts *RootOptions, id, raw string, cmd *cobra.Command) error {
	status, err := model.ParseStatus(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid status", err)
	}

	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.SyncStatus(cmd.Context(), id, status)
	if err != nil {
		return engineError(fmt.Sprintf("sync status of %s", id), err)
	}

	formatter := newFormatter(opts, cmd)
	if err := formatter.Success(statusResult{res}); err != nil {
		return err
	}
	if res.Outcome == engine.SyncDeferred {
		return reportedFailure(ErrCodeSync, fmt.Sprintf("remote update of %s deferred", id))
	}
	return nil
}

type statusResult struct {
	*engine.SyncResult
}

func (r statusResult) renderText(w io.Writer) error {
	if r.Outcome == engine.SyncDeferred {
		fmt.Fprintf(w, "✗ %s set to %s locally; remote update deferred: %s\n", r.WorkItemID, r.LocalStatus, r.Error)
		return nil
	}
	fmt.Fprintf(w, "✓ %s set to %s (%s is %s)\n", r.WorkItemID, r.LocalStatus, r.RemoteNumber, r.RemoteStatus)
	if r.Reconciled {
		fmt.Fprintln(w, "  subtree reconciled first")
	}
	return nil
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/workitems"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Mirror status changes made to the task file as they happen",
		Long: `Watch the task file and push every status change to the tracker.

Each save of the task file is diffed against the previous one; every work
item whose status changed is synced exactly as "treesync status" would.
Failures are logged and noted on the work item; watching continues until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	a.logger.Info("watching task file", "file", a.items.Path())

	err = a.items.Watch(ctx, a.logger, func(ch workitems.StatusChange) {
		a.logger.Info("status changed", "work_item", ch.Item.ID, "from", ch.From, "to", ch.Item.Status)
		res, err := a.engine.SyncStatus(ctx, ch.Item.ID, ch.Item.Status)
		switch {
		case err != nil:
			a.logger.Error("status sync failed", "work_item", ch.Item.ID, "error", err)
		case res.Outcome == engine.SyncDeferred:
			a.logger.Warn("status sync deferred", "work_item", ch.Item.ID, "error", res.Error)
		}
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "watch failed", err).WithCode(ErrCodeStore)
	}
	return nil
}

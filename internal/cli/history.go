package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/store"
)

// HistoryResult is the stored sync history of one work item.
type HistoryResult struct {
	WorkItemID string                 `json:"work_item_id"`
	Record     *model.SyncRecord      `json:"record,omitempty"`
	Duplicates []model.DuplicateEvent `json:"duplicates"`
	Operations []store.OperationEntry `json:"operations"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <work-item>",
		Short: "Show the sync record, duplicate decisions and operations of a work item",
		Long: `Show what the sync database knows about a work item: its current link,
every duplicate-detection decision made for it, and every remote operation
attempted on its behalf. Nothing is sent to the tracker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
}

func runHistory(opts *RootOptions, id string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	db, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	result := HistoryResult{WorkItemID: id}

	rec, found, err := db.GetRecord(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read sync record", err).WithCode(ErrCodeStore)
	}
	if found {
		result.Record = &rec
	}
	if result.Duplicates, err = db.ReadDuplicateEvents(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, "failed to read duplicate events", err).WithCode(ErrCodeStore)
	}
	if result.Operations, err = db.ReadOperations(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err).WithCode(ErrCodeStore)
	}

	if !found && len(result.Duplicates) == 0 && len(result.Operations) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no sync history for %s", id)).WithCode(ErrCodeNotFound)
	}
	return newFormatter(opts, cmd).Success(result)
}

func (r HistoryResult) renderText(w io.Writer) error {
	if r.Record != nil {
		fmt.Fprintf(w, "%s -> %s (%s), last known %s, synced %s\n",
			r.WorkItemID, r.Record.RemoteNumber, r.Record.RemoteID,
			r.Record.LastKnownRemoteStatus, r.Record.LastSyncedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "%s is not linked\n", r.WorkItemID)
	}

	if len(r.Duplicates) > 0 {
		fmt.Fprintln(w, "\nDuplicate decisions:")
		for _, ev := range r.Duplicates {
			candidate := "-"
			if ev.Candidate != nil {
				candidate = fmt.Sprintf("%s %q", ev.Candidate.RemoteNumber, ev.Candidate.Title)
			}
			fmt.Fprintf(w, "  %s  %-13s %.2f  %s\n", ev.RecordedAt.Format("2006-01-02 15:04:05"), ev.Resolution, ev.Confidence, candidate)
		}
	}

	if len(r.Operations) > 0 {
		fmt.Fprintln(w, "\nOperations:")
		for _, op := range r.Operations {
			line := fmt.Sprintf("  [%d] %-13s %-9s %s", op.Seq, op.Kind, op.Outcome, plural(op.Attempts, "attempt"))
			if op.Error != "" {
				line += ": " + op.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

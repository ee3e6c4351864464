package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/engine"
)

// ReconcileResult holds the reports of one reconcile command.
type ReconcileResult struct {
	OK      bool                           `json:"ok"`
	Reports []*engine.ReconciliationReport `json:"reports"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [root...]",
		Short: "Mirror task subtrees into the tracker",
		Long: `Reconcile one or more task subtrees with the tracker.

Every work item ends linked to exactly one remote object: existing links are
validated and repaired, exact-title matches are linked, everything else is
created under the configured rate limits. Objects the tracker acknowledged but
never materialized are re-created by the recovery gate. Local status changes
are pushed afterwards.

With no arguments every top-level task is reconciled. A subtask ID
reconciles just that subtask and requires its parent to be linked.

Exit codes:
  0 - Every item linked
  1 - One or more items failed
  2 - Command error (bad config, unknown item, hierarchy violation)

Examples:
  treesync reconcile
  treesync reconcile T1 T2
  treesync reconcile T1.3 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, args, cmd)
		},
	}
}

func runReconcile(opts *RootOptions, args []string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	roots, err := a.roots(cmd, args)
	if err != nil {
		return err
	}

	formatter := newFormatter(opts, cmd)
	result := ReconcileResult{OK: true, Reports: make([]*engine.ReconciliationReport, 0, len(roots))}
	for _, root := range roots {
		formatter.VerboseLog("Reconciling %s", root)
		rep, err := a.engine.Reconcile(cmd.Context(), root)
		if err != nil {
			return engineError(fmt.Sprintf("reconcile %s", root), err)
		}
		result.Reports = append(result.Reports, rep)
		if !rep.OK() {
			result.OK = false
		}
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.OK {
		return reportedFailure(ErrCodeSync, "reconciliation incomplete")
	}
	return nil
}

func (r ReconcileResult) renderText(w io.Writer) error {
	if len(r.Reports) == 0 {
		fmt.Fprintln(w, "No tasks to reconcile.")
		return nil
	}
	for _, rep := range r.Reports {
		mark := "✓"
		if !rep.OK() {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s, %s, %s\n", mark, rep.Root,
			plural(len(rep.Items), "item"),
			plural(len(rep.Operations), "operation"),
			plural(rep.RecoveryPasses, "recovery pass"))

		for _, it := range rep.Items {
			switch {
			case it.State != engine.StateLinked:
				fmt.Fprintf(w, "  %s %s: %s\n", it.WorkItemID, it.State, it.Error)
			case it.Flagged:
				fmt.Fprintf(w, "  %s %s: possible duplicate, needs review\n", it.WorkItemID, it.RemoteNumber)
			case it.Recovered:
				fmt.Fprintf(w, "  %s %s: recovered\n", it.WorkItemID, it.RemoteNumber)
			case slices.Contains(it.Notices, engine.ErrCodeOrphaned):
				fmt.Fprintf(w, "  %s %s: re-created, previous object was gone\n", it.WorkItemID, it.RemoteNumber)
			case slices.Contains(it.Notices, engine.ErrCodeMismatch):
				fmt.Fprintf(w, "  %s %s: renumbered remotely, record refreshed\n", it.WorkItemID, it.RemoteNumber)
			}
		}
		if rep.StatusUpdates > 0 {
			fmt.Fprintf(w, "  %s pushed\n", plural(rep.StatusUpdates, "status update"))
		}
	}
	return nil
}

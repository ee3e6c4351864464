package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/metadata"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                       `json:"valid"`
	InSync  bool                       `json:"in_sync"`
	Reports []*engine.ValidationReport `json:"reports,omitempty"`
}

type validateOptions struct {
	*RootOptions
	ConfigOnly bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [root...]",
		Short: "Check stored links against the tracker without writing",
		Long: `Validate the sync records of one or more task subtrees.

Each record is checked against the tracker: the remote object must exist and
carry the recorded number. Status drift is reported but not repaired. No
writes are made, local or remote.

With --config-only, just the config file is checked against its schema.

Exit codes:
  0 - Every item linked to a valid remote object
  1 - At least one item unlinked, orphaned or renumbered
  2 - Command error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ConfigOnly, "config-only", false, "only validate the config file")

	return cmd
}

func runValidate(opts *validateOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.ConfigOnly {
		if _, err := loadConfig(opts.RootOptions); err != nil {
			return err
		}
		formatter.VerboseLog("Config %s is valid", opts.ConfigPath)
		return formatter.Success(ValidationResult{Valid: true, InSync: true})
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	roots, err := a.roots(cmd, args)
	if err != nil {
		return err
	}

	result := ValidationResult{Valid: true, InSync: true, Reports: []*engine.ValidationReport{}}
	for _, root := range roots {
		rep, err := a.engine.Validate(cmd.Context(), root)
		if err != nil {
			return engineError(fmt.Sprintf("validate %s", root), err)
		}
		result.Reports = append(result.Reports, rep)
		result.Valid = result.Valid && rep.OK()
		result.InSync = result.InSync && rep.InSync()
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return reportedFailure(ErrCodeSync, "validation failed")
	}
	return nil
}

func (r ValidationResult) renderText(w io.Writer) error {
	if r.Reports == nil {
		fmt.Fprintln(w, "✓ Config is valid")
		return nil
	}
	for _, rep := range r.Reports {
		mark := "✓"
		if !rep.OK() {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", mark, rep.Root, plural(len(rep.Items), "item"))
		for _, it := range rep.Items {
			switch {
			case it.Result == metadata.Mismatch:
				fmt.Fprintf(w, "  %s %s: recorded %s, tracker has %s\n", it.WorkItemID, it.Result, it.RemoteNumber, it.ObservedNumber)
			case it.Result != metadata.Valid && it.Error != "":
				fmt.Fprintf(w, "  %s %s: %s\n", it.WorkItemID, it.Result, it.Error)
			case it.Result != metadata.Valid:
				fmt.Fprintf(w, "  %s %s\n", it.WorkItemID, it.Result)
			case !it.StatusInSync:
				fmt.Fprintf(w, "  %s %s: local %s, remote %s\n", it.WorkItemID, it.RemoteNumber, it.LocalStatus, it.RemoteStatus)
			}
		}
	}
	if r.Valid && !r.InSync {
		fmt.Fprintln(w, "Status drift found; run reconcile to push local statuses.")
	}
	return nil
}

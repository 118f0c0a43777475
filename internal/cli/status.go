package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/progress"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [module]",
		Short: "Show module progress from the local cache",
		Long: `Show the learner's progress for one module, or every module in the
catalog. Progress is read from the local cache; run "refresh" first to merge
completions recorded on other devices.

Example:
  progsync status --user 42
  progsync status signature-based-detection --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				return runStatus(ctx, rt, rootOpts, args)
			})
		},
	}
}

func runStatus(ctx context.Context, rt *runtime, opts *RootOptions, args []string) error {
	view := statusView{User: model.UserID(opts.User).String()}
	if len(args) == 1 {
		sum, err := rt.session.Progress(ctx, args[0])
		if err != nil {
			return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown module", err)
		}
		view.Modules = []progress.Summary{sum}
		return rt.out.Success(view)
	}
	all, err := rt.session.AllProgress(ctx)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to compute progress", err)
	}
	view.Modules = all
	return rt.out.Success(view)
}

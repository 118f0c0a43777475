package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <module> <lesson-id>",
		Short: "Mark a lesson complete",
		Long: `Mark a lesson complete in the local cache and tell the remote service.

Completion is monotonic: completing a lesson twice is a no-op. If the
remote call fails the lesson stays complete locally and is re-sent by a
later "refresh".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				return runComplete(ctx, rt, args[0], args[1])
			})
		},
	}
}

func runComplete(ctx context.Context, rt *runtime, module, lesson string) error {
	t, err := rt.session.Tracker(module)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown module", err)
	}
	id := t.Module().NormalizeLessonID(lesson)
	if !t.Module().HasLesson(id) {
		return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown lesson", fmt.Errorf("module %s has no lesson %q", module, lesson))
	}
	added, err := t.MarkComplete(ctx, id)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to record completion", err)
	}
	sum, err := rt.session.Progress(ctx, module)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to compute progress", err)
	}
	return rt.out.Success(changeView{Module: module, Unit: id, Added: added, Percent: sum.Percent})
}

// NewUnitCommand creates the unit command.
func NewUnitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unit <module> <overview|practical|assessment>",
		Short: "Mark a module unit complete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				return runUnit(ctx, rt, args[0], args[1])
			})
		},
	}
}

func runUnit(ctx context.Context, rt *runtime, module, unitType string) error {
	ut, err := model.ParseUnitType(unitType)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeArgs, "invalid unit type", err)
	}
	t, err := rt.session.Tracker(module)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown module", err)
	}
	added, err := t.CompleteUnit(ctx, ut)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeArgs, "failed to record unit", err)
	}
	sum, err := rt.session.Progress(ctx, module)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to compute progress", err)
	}
	return rt.out.Success(changeView{Module: module, Unit: string(ut), Added: added, Percent: sum.Percent})
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Merge server completions into the local cache",
		Long: `Pull completed lessons from the remote service for every module, union
them into the local cache, and re-send lessons the server has not seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				if rt.cfg.Offline() {
					return rt.out.Fail(ExitCommandError, ErrCodeArgs, "refresh needs a remote service", fmt.Errorf("no base URL configured"))
				}
				if err := rt.session.Refresh(ctx); err != nil {
					return rt.out.Fail(ExitFailure, ErrCodeRemote, "refresh incomplete", err)
				}
				return runStatus(ctx, rt, rootOpts, nil)
			})
		},
	}
}

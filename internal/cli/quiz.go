package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/quiz"
)

// NewQuizCommand creates the quiz command group.
func NewQuizCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Answer, submit and review module quizzes",
		Long: `Drive one quiz attempt. Answers are saved as a draft after every change,
so an attempt can be spread over several invocations.

Question and option numbers start at 1.

Example:
  progsync quiz show signature-module-1 --user 42
  progsync quiz answer signature-module-1 1 2 --user 42
  progsync quiz submit signature-module-1 --user 42`,
	}
	cmd.AddCommand(
		newQuizShowCommand(rootOpts),
		newQuizAnswerCommand(rootOpts),
		newQuizActionCommand(rootOpts, "submit", "Score the attempt; 80% passes", runQuizSubmit),
		newQuizActionCommand(rootOpts, "review", "Review a submitted attempt", runQuizReview),
		newQuizActionCommand(rootOpts, "retry", "Start over after a failed attempt", runQuizRetry),
		newQuizActionCommand(rootOpts, "reset", "Clear the attempt record, keeping history", runQuizReset),
	)
	return cmd
}

type quizAction func(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error

func withQuiz(cmd *cobra.Command, opts *RootOptions, code string, fn quizAction) error {
	return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
		mod, _, ok := rt.catalog.Quiz(code)
		if !ok {
			return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown quiz", fmt.Errorf("no quiz %q in catalog", code))
		}
		m, err := rt.session.Quiz(ctx, code)
		if err != nil {
			return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to open quiz", err)
		}
		return fn(ctx, rt, m, mod.Slug)
	})
}

func newQuizShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <quiz>",
		Short: "Show questions and the current attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuiz(cmd, rootOpts, args[0], func(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
				return rt.out.Success(newQuizView(m, module))
			})
		},
	}
}

func newQuizAnswerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <quiz> <question> <option>",
		Short: "Choose an option for a question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := strconv.Atoi(args[1])
			if err != nil {
				return newFormatter(rootOpts, cmd).Fail(ExitCommandError, ErrCodeArgs, "question must be a number", err)
			}
			choice, err := strconv.Atoi(args[2])
			if err != nil {
				return newFormatter(rootOpts, cmd).Fail(ExitCommandError, ErrCodeArgs, "option must be a number", err)
			}
			return withQuiz(cmd, rootOpts, args[0], func(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
				if err := m.Answer(ctx, q-1, choice-1); err != nil {
					return quizFailure(rt, "answer rejected", err)
				}
				return rt.out.Success(newQuizView(m, module))
			})
		},
	}
}

func newQuizActionCommand(rootOpts *RootOptions, use, short string, fn quizAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <quiz>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuiz(cmd, rootOpts, args[0], fn)
		},
	}
}

func runQuizSubmit(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
	res, err := m.Submit(ctx)
	if err != nil {
		return quizFailure(rt, "submission rejected", err)
	}
	return rt.out.Success(resultView{
		Code:     m.Quiz().Code,
		Score:    res.Score,
		Total:    res.Total,
		Passed:   res.Passed,
		Attempts: m.Attempt().Attempts,
	})
}

func runQuizReview(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
	if err := m.Review(); err != nil {
		return quizFailure(rt, "nothing to review", err)
	}
	return rt.out.Success(newQuizView(m, module))
}

func runQuizRetry(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
	if err := m.TryAgain(ctx); err != nil {
		return quizFailure(rt, "retry refused", err)
	}
	return rt.out.Success(newQuizView(m, module))
}

func runQuizReset(ctx context.Context, rt *runtime, m *quiz.Machine, module string) error {
	if err := m.Reset(ctx); err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "reset failed", err)
	}
	return rt.out.Success(messageView{Message: fmt.Sprintf("%s reset", m.Quiz().Code)})
}

// quizFailure maps state machine refusals to ExitFailure and anything
// else to ExitCommandError.
func quizFailure(rt *runtime, message string, err error) error {
	for _, refusal := range []error{
		quiz.ErrIncomplete,
		quiz.ErrLocked,
		quiz.ErrSubmitted,
		quiz.ErrNotFailed,
		quiz.ErrNotSubmitted,
		quiz.ErrQuestionRange,
		quiz.ErrChoiceRange,
	} {
		if errors.Is(err, refusal) {
			return rt.out.Fail(ExitFailure, ErrCodeRefused, message, err)
		}
	}
	return rt.out.Fail(ExitCommandError, ErrCodeGeneric, message, err)
}

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// migrateView reports the sweep and ledger recovery of session open.
type migrateView struct {
	User        string   `json:"user"`
	AlreadyDone bool     `json:"already_done"`
	Adopted     int      `json:"adopted"`
	Purged      int      `json:"purged"`
	Recovered   int      `json:"recovered_ledgers"`
	Leftover    []string `json:"leftover_keys,omitempty"`
}

func (v migrateView) WriteText(w io.Writer) error {
	if v.AlreadyDone {
		fmt.Fprintf(w, "shared progress already swept on this device\n")
	} else {
		fmt.Fprintf(w, "adopted %d shared value(s) for %s, purged %d shared key(s)\n", v.Adopted, v.User, v.Purged)
	}
	fmt.Fprintf(w, "recovered %d pending time ledger(s)\n", v.Recovered)
	for _, k := range v.Leftover {
		fmt.Fprintf(w, "unrecognized legacy key: %s\n", k)
	}
	return nil
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Adopt legacy shared progress for a learner",
		Long: `Run the one-time namespace sweep for --user and report what it did.

Every session open runs the sweep; this command only makes it explicit.
Values stored before per-learner namespacing are copied to the learner's
keys, then every shared key is deleted so no later learner on the same
device inherits them. The sweep runs once per device. Legacy keys of
catalog modules and quizzes that no known value claims are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.User == "" {
				return newFormatter(rootOpts, cmd).Fail(ExitCommandError, ErrCodeArgs, "migrate needs --user", nil)
			}
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				res := rt.session.SweepResult()
				leftover, err := rt.session.LeftoverKeys(ctx)
				if err != nil {
					return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to list legacy keys", err)
				}
				return rt.out.Success(migrateView{
					User:        rt.session.User().String(),
					AlreadyDone: res.AlreadyDone,
					Adopted:     res.Adopted,
					Purged:      res.Purged,
					Recovered:   rt.session.Recovered(),
					Leftover:    leftover,
				})
			})
		},
	}
}

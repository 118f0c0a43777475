package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath string
	Database   string
	CatalogDir string
	User       string
	Token      string
	BaseURL    string
	Offline    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the progsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "progsync",
		Short: "progsync - learner progress synchronization",
		Long: `Track a learner's lesson completions, quiz attempts and time on task in a
local cache, and keep it synchronized with the remote progress service.

Every command opens a session for --user (anonymous when empty): shared
progress is adopted and swept on the first identified session, and time
left undelivered by an earlier run is re-sent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/progsync/config.toml)")
	pf.StringVar(&opts.Database, "db", "", "path to SQLite database (overrides [store] path)")
	pf.StringVar(&opts.CatalogDir, "catalog", "", "directory of CUE catalog files (default built-in catalog)")
	pf.StringVarP(&opts.User, "user", "u", "", "learner id (empty for anonymous)")
	pf.StringVar(&opts.Token, "token", "", "bearer token for the remote service")
	pf.StringVar(&opts.BaseURL, "base-url", "", "remote service base URL (overrides [remote] base_url)")
	pf.BoolVar(&opts.Offline, "offline", false, "never call the remote service")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewUnitCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewQuizCommand(opts))
	cmd.AddCommand(NewTrackCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

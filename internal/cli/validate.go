package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/catalog"
)

// ValidationIssue is one catalog problem.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Modules int               `json:"modules,omitempty"`
	Quizzes int               `json:"quizzes,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the course catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts), newCatalogListCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog-dir]",
		Short: "Validate CUE catalog files",
		Long: `Check every .cue file in the directory against the catalog schema: lesson
and quiz shapes, answer indices inside the option list, and unique lesson
ids and quiz codes. All problems are reported, not just the first.

The directory defaults to --catalog.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.CatalogDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(newFormatter(rootOpts, cmd), dir)
		},
	}
}

func runValidate(formatter *OutputFormatter, dir string) error {
	if dir == "" {
		return outputValidateError(formatter, catalog.ErrCodeNotFound, "no catalog directory given", nil)
	}

	c, errs := catalog.Load(dir, catalog.LoadModeCollectAll)
	if c == nil && len(errs) == 1 {
		var loadErr *catalog.LoadError
		if errors.As(errs[0], &loadErr) && loadErr.Code != catalog.ErrCodeBuildFailed {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
	}
	if len(errs) > 0 {
		return outputValidationErrors(formatter, toIssues(errs))
	}

	formatter.VerboseLog("Validated catalog in %s", dir)
	result := ValidationResult{Valid: true, Modules: len(c.Modules())}
	for _, m := range c.Modules() {
		result.Quizzes += len(m.Quizzes)
	}
	return outputValidateSuccess(formatter, result)
}

func toIssues(errs []error) []ValidationIssue {
	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		var loadErr *catalog.LoadError
		if !errors.As(err, &loadErr) {
			issues = append(issues, ValidationIssue{Code: catalog.ErrCodeGeneric, Message: err.Error()})
			continue
		}
		issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.File = loadErr.Pos.Filename()
			issue.Line = loadErr.Pos.Line()
		}
		issues = append(issues, issue)
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Catalog valid: %d module(s), %d quiz(zes)\n", result.Modules, result.Quizzes)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return failure
}

// catalogList is the catalog list result.
type catalogList struct {
	Modules []*catalog.Module `json:"modules"`
}

func (l catalogList) WriteText(w io.Writer) error {
	for _, m := range l.Modules {
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render(m.Slug), mutedStyle.Render("("+string(m.Track)+")"))
		for _, lesson := range m.Lessons {
			fmt.Fprintf(w, "  lesson %-20s %s\n", lesson.ID, lesson.Title)
		}
		for _, q := range m.Quizzes {
			fmt.Fprintf(w, "  quiz   %-20s %d question(s)\n", q.Code, len(q.Questions))
		}
	}
	return nil
}

func newCatalogListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List modules, lessons and quizzes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			c, err := loadCatalog(rootOpts.CatalogDir)
			if err != nil {
				return out.Fail(ExitCommandError, catalog.ErrCodeGeneric, "failed to load catalog", err)
			}
			return out.Success(catalogList{Modules: c.Modules()})
		},
	}
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/timeacc"
)

// TrackOptions holds flags for the track command.
type TrackOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track <module> <unit-type> [unit-code]",
		Short: "Accumulate time on a unit until stopped",
		Long: `Accumulate visible time on one unit and flush it to the remote service.

Commands are read from stdin, one per line:
  hide    the unit is no longer visible (flushes at once)
  show    the unit is visible again
  flush   send pending time now
  status  print pending seconds
  quit    stop (same as EOF or Ctrl-C)

On stop the pending time is flushed synchronously. Time that cannot be
delivered stays in the local ledger and is re-sent by the next session.

Example:
  progsync track signature-based-detection lesson intro --user 42
  progsync track signature-based-detection overview --metrics-addr :9464`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := parseUnit(args)
			if err != nil {
				return newFormatter(rootOpts, cmd).Fail(ExitCommandError, ErrCodeArgs, "invalid unit", err)
			}
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				return runTrack(ctx, rt, opts, unit, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func parseUnit(args []string) (model.Unit, error) {
	ut, err := model.ParseUnitType(args[1])
	if err != nil {
		return model.Unit{}, err
	}
	unit := model.Unit{ModuleSlug: args[0], Type: ut}
	if len(args) == 3 {
		unit.Code = args[2]
	}
	return unit, unit.Validate()
}

// trackResult is printed when tracking stops.
type trackResult struct {
	Unit    string `json:"unit"`
	Pending int64  `json:"pending_seconds"`
	Total   int64  `json:"total_seconds,omitempty"`
}

func (r trackResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "stopped tracking %s: %ds pending, %ds recorded\n", r.Unit, r.Pending, r.Total)
	return err
}

func runTrack(parent context.Context, rt *runtime, opts *TrackOptions, unit model.Unit, cmd *cobra.Command) error {
	if _, ok := rt.catalog.Module(unit.ModuleSlug); !ok {
		return rt.out.Fail(ExitCommandError, ErrCodeNotFound, "unknown module", fmt.Errorf("no module %q in catalog", unit.ModuleSlug))
	}
	acc, err := rt.session.Timer(parent, unit)
	if err != nil {
		return rt.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to open time ledger", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.MetricsAddr != "" {
		stop, err := serveMetrics(opts.MetricsAddr, rt)
		if err != nil {
			return rt.out.Fail(ExitCommandError, ErrCodeArgs, "failed to serve metrics", err)
		}
		defer stop()
	}

	var total atomic.Int64
	unsubscribe := rt.session.Bus().Subscribe(func(e bus.Event) {
		if u, ok := e.Payload.(bus.TimeUpdated); ok && u.Module == unit.ModuleSlug {
			total.Store(u.TotalSeconds)
			slog.Info("time recorded", "module", u.Module, "total_seconds", u.TotalSeconds)
		}
	}, bus.KindTimeUpdated)
	defer unsubscribe()

	go acc.Run(ctx)
	slog.Info("tracking", "unit", unit.String(), "user", rt.session.User().String())

	lines := readLines(ctx, cmd.InOrStdin())
	prompt := isTerminal(cmd.InOrStdin())
	for running := true; running; {
		if prompt {
			fmt.Fprint(cmd.ErrOrStderr(), "> ")
		}
		select {
		case <-ctx.Done():
			running = false
		case line, ok := <-lines:
			if !ok {
				running = false
				break
			}
			running = trackCommand(ctx, acc, line, cmd.ErrOrStderr())
		}
	}

	// Final flush; the session's own Close is then a no-op for this unit.
	if err := acc.Close(context.WithoutCancel(parent)); err != nil {
		slog.Warn("final flush failed, time kept for the next session", "error", err)
	}
	return rt.out.Success(trackResult{Unit: unit.String(), Pending: acc.Pending(), Total: total.Load()})
}

// trackCommand handles one stdin command and reports whether to keep going.
func trackCommand(ctx context.Context, acc *timeacc.Accumulator, line string, w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "hide":
		if err := acc.SetVisibility(ctx, false); err != nil {
			slog.Warn("flush on hide failed", "error", err)
		}
	case "show":
		_ = acc.SetVisibility(ctx, true)
	case "flush":
		if _, err := acc.Flush(ctx, true); err != nil {
			slog.Warn("flush failed", "error", err)
		}
	case "status":
		fmt.Fprintf(w, "visible=%t pending=%ds\n", acc.Visible(), acc.Pending())
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(w, "unknown command %q (hide, show, flush, status, quit)\n", line)
	}
	return true
}

// readLines scans r on a goroutine. The channel closes at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown.
func serveMetrics(addr string, rt *runtime) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

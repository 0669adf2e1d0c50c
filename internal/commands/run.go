package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/willibrandon/stepscope/pkg/cli"
	"github.com/willibrandon/stepscope/pkg/config"
	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/recorder"
	"github.com/willibrandon/stepscope/pkg/replay"
	"github.com/willibrandon/stepscope/pkg/session"
)

type runFlagData struct {
	breakpoints []string
	auto        bool
	json        bool
	trace       string
}

var runFlags runFlagData

func NewRunCommand(log *logger.Logger) (*cobra.Command, error) {
	runCmd := &cobra.Command{
		Use:   "run <source-file | ->",
		Short: "Steps through a program in the terminal",
		Long: `Compiles the program and stops at its entry point, then steps one line at a
time on request. When standard input is not a terminal, or with --auto, the
program is stepped to the end and every stop is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runProgram(log),
	}

	runCmd.Flags().StringSliceVarP(&runFlags.breakpoints, "break", "b", nil, "Extra breakpoint locations (line, file:line or func:name)")
	runCmd.Flags().BoolVar(&runFlags.auto, "auto", false, "Step to the end without prompting")
	runCmd.Flags().BoolVar(&runFlags.json, "json", false, "Print every result as a JSON line (implies --auto)")
	runCmd.Flags().StringVar(&runFlags.trace, "trace", "", "Record the session to this trace file")

	return runCmd, nil
}

func runProgram(log *logger.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		runLog := log.WithName("run")

		source, fromStdin, err := readSource(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if cfg.Language == config.LanguageC && strings.HasSuffix(args[0], ".go") && rootFlags.language == "" {
			cfg.Language = config.LanguageGo
		}

		opts, err := sessionOptions()
		if err != nil {
			return err
		}
		opts.Breakpoints = runFlags.breakpoints

		var rec recorder.Recorder
		if runFlags.trace != "" {
			fr, err := recorder.NewFileRecorder(runFlags.trace)
			if err != nil {
				return err
			}
			defer func() {
				if err := fr.Close(); err != nil {
					runLog.Error(err, "Failed to close trace", "Path", fr.Path())
				}
			}()
			rec = fr
		}

		comp := compilers(log)[cfg.Language]
		s := session.New(uuid.Must(uuid.NewV7()).String(), comp, launcher(log), rec, opts, runLog)
		defer func() { _, _ = s.Stop() }()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		res, err := s.Start(ctx, source)
		if err != nil {
			return err
		}

		if runFlags.json {
			return printResults(ctx, s, res, out)
		}
		if res.Status == session.StatusCompleted {
			fmt.Fprintln(out, "Program finished before reaching the entry point")
			return nil
		}

		r := replay.NewBasicReplayer()
		_ = r.Load(s.History())
		_, _ = r.JumpTo(0)
		c := cli.NewCLI(s, r, cmd.InOrStdin(), out)

		if runFlags.auto || fromStdin || !isTerminal(os.Stdin) {
			return c.RunToEnd(ctx)
		}
		c.Start(ctx)
		return nil
	}
}

// printResults steps to the end writing one JSON result per line
func printResults(ctx context.Context, s *session.Session, res session.Result, out io.Writer) error {
	enc := json.NewEncoder(out)
	for {
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Status == session.StatusCompleted {
			return nil
		}
		var err error
		if res, err = s.Step(ctx); err != nil {
			return err
		}
	}
}

// readSource reads the program from a file or, for "-", from in
func readSource(path string, in io.Reader) (string, bool, error) {
	if path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", true, fmt.Errorf("failed to read program from standard input: %w", err)
		}
		return string(data), true, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", false, fmt.Errorf("failed to read program: %w", err)
	}
	return string(data), false, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

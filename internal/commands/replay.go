package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/stepscope/pkg/cli"
	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/recorder"
	"github.com/willibrandon/stepscope/pkg/replay"
)

var replayAll bool

func NewReplayCommand(log *logger.Logger) (*cobra.Command, error) {
	replayCmd := &cobra.Command{
		Use:   "replay <trace-file>",
		Short: "Walks through a recorded session",
		Long: `Loads a trace written by 'run --trace' or 'serve --trace-dir' and steps
through its stops forward and backward without running the program again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replayLog := log.WithName("replay")

			events, err := recorder.ReadTrace(args[0])
			if err != nil {
				return err
			}
			r := replay.FromEvents(events)
			if len(r.Snapshots()) == 0 {
				return fmt.Errorf("trace %s has no recorded stops", args[0])
			}
			replayLog.V(1).Info("Loaded trace", "Path", args[0], "Events", len(events), "Snapshots", len(r.Snapshots()))

			c := cli.NewCLI(nil, r, cmd.InOrStdin(), cmd.OutOrStdout())
			if replayAll || !isTerminal(os.Stdin) {
				return c.RunToEnd(cmd.Context())
			}
			c.Start(cmd.Context())
			return nil
		},
	}
	replayCmd.Flags().BoolVar(&replayAll, "all", false, "Print every stop without prompting")

	return replayCmd, nil
}

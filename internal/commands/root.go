// Package commands implements the stepscope command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/config"
	"github.com/willibrandon/stepscope/pkg/gdb"
	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/session"
)

type rootFlagData struct {
	configPath  string
	language    string
	addressMode string
}

var (
	rootFlags rootFlagData
	cfg       config.Config
)

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "stepscope",
		Short: "Steps through small programs line by line and shows their memory",
		Long: `stepscope compiles a program, runs it under a debugger and stops after every
line, reporting each variable's value and address.

Use 'run' to step through a program in the terminal, 'serve' to drive sessions
over HTTP and 'replay' to walk through a recorded trace.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			log.Flush()
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootFlags.configPath, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVarP(&rootFlags.language, "language", "l", "", "Language of the program: c or go")
	flags.StringVar(&rootFlags.addressMode, "address-mode", "", "Where addresses come from: simulated or live")
	log.AddLevelFlag(flags)

	builders := []struct {
		name  string
		build func(*logger.Logger) (*cobra.Command, error)
	}{
		{"run", NewRunCommand},
		{"serve", NewServeCommand},
		{"replay", NewReplayCommand},
		{"version", NewVersionCommand},
	}
	for _, b := range builders {
		cmd, err := b.build(log)
		if cmd == nil {
			return nil, fmt.Errorf("could not set up '%s' command: %w", b.name, err)
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd, nil
}

func loadConfig() error {
	loaded, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if rootFlags.language != "" {
		loaded.Language = rootFlags.language
	}
	if rootFlags.addressMode != "" {
		loaded.AddressMode = rootFlags.addressMode
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// compilers builds one toolchain per supported language
func compilers(log *logger.Logger) map[string]compiler.Compiler {
	return map[string]compiler.Compiler{
		config.LanguageC:  compiler.NewGCC(cfg.Compiler.Path, cfg.Compiler.Flags, log.Logger),
		config.LanguageGo: compiler.NewGoBuild(cfg.GoPath, log.Logger),
	}
}

func launcher(log *logger.Logger) gdb.Launcher {
	return gdb.NewExecLauncher(cfg.Debugger.Path, cfg.Debugger.Args, log.Logger)
}

func sessionOptions() (session.Options, error) {
	return session.OptionsFromConfig(cfg)
}

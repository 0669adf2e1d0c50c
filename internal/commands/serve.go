package commands

import (
	"github.com/spf13/cobra"

	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/server"
	"github.com/willibrandon/stepscope/pkg/session"
)

type serveFlagData struct {
	listen   string
	traceDir string
}

var serveFlags serveFlagData

func NewServeCommand(log *logger.Logger) (*cobra.Command, error) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves debugging sessions over HTTP",
		Long: `Serves debugging sessions over HTTP.

POST /start with {"c_code": "..."} compiles a program and stops at its entry
point, POST /step executes one line and POST /stop ends the session. The
session is identified by a cookie. POST /run runs a program without the
debugger and GET /history returns every stop of the current session.`,
		Args: cobra.NoArgs,
		RunE: serve(log),
	}

	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", "", "Address to listen on (overrides the configuration)")
	serveCmd.Flags().StringVar(&serveFlags.traceDir, "trace-dir", "", "Record every session to a trace file in this directory")

	return serveCmd, nil
}

func serve(log *logger.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		serveLog := log.WithName("serve")

		if serveFlags.listen != "" {
			cfg.Listen = serveFlags.listen
		}
		if serveFlags.traceDir != "" {
			cfg.TraceDir = serveFlags.traceDir
		}

		opts, err := sessionOptions()
		if err != nil {
			return err
		}
		comps := compilers(log)
		registry, err := session.NewRegistry(session.Dependencies{
			Compilers:        comps,
			Launcher:         launcher(log),
			TraceDir:         cfg.TraceDir,
			HistoryCacheSize: cfg.HistoryCacheSize,
		}, opts, log.Logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := registry.Close(); err != nil {
				serveLog.Error(err, "Failed to stop sessions")
			}
		}()

		srv := server.New(registry, comps, server.Options{
			RunTimeout:  cfg.RunTimeout,
			AddressBase: cfg.AddressBase,
			MaxElements: cfg.MaxElements,
		}, log.Logger)
		return srv.ListenAndServe(cmd.Context(), cfg.Listen)
	}
}

// Command crewflow runs software-delivery projects through planning,
// development, testing and deployment crews, either once from the command
// line or as an HTTP service.
package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/crewflow/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var pipelineFile string

	root := &cobra.Command{
		Use:   "crewflow",
		Short: "Drive software projects through delivery crews",
		Long: `crewflow takes a natural-language request and moves it through the
planning, development, testing and deployment phases. Every artifact a crew
produces is validated by the guardrail pipeline before it is accepted.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&pipelineFile, "pipeline", "", "pipeline YAML file (defaults to CREWFLOW_PIPELINE_FILE, then the built-in hello-world pipeline)")

	root.AddCommand(newRunCmd(&pipelineFile))
	root.AddCommand(newServeCmd(&pipelineFile))
	return root
}

// newLogger builds the process logger. Console output is used when asked
// for, or in development when no format is set.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Logger()

	if cfg.LogFormat == "console" || (cfg.LogFormat == "" && cfg.IsDevelopment()) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	log.Logger = logger
	return logger
}

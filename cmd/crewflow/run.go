package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/crewflow/internal/config"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/project"
)

func newRunCmd(pipelineFile *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run one project to completion and print the result",
		Long: `Run a single project in-process and print its final state.

Examples:
  # Run the built-in hello-world pipeline
  crewflow run "build a hello world CLI"

  # Use a custom pipeline and YAML output
  crewflow run --pipeline crews.yaml --output yaml "add a /health endpoint"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unknown output format %q (want json or yaml)", output)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateRun(); err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			a, err := newApp(cfg, *pipelineFile, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.orch.RunProject(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := writeResult(cmd.OutOrStdout(), res, output); err != nil {
				return err
			}
			if res.FinalPhase == project.PhaseFailed {
				return fmt.Errorf("project %s failed (%s): %s",
					res.State.ID, res.State.FailureKind, res.State.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func writeResult(w io.Writer, res orchestrator.Result, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
}

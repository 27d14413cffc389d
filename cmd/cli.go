// SPDX-License-Identifier: MIT
//
// Package cmd implements the livefx command line: run the effects engine,
// list devices and describe the effect parameters.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"livefx/internal/config"
	"livefx/internal/log"
	"livefx/pkg/build"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	backend    string
	verbose    bool
}

// loadConfig reads the configuration file and applies the global flags.
func (g *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Audio.Backend = g.backend
	}
	if g.verbose {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Level())
	return cfg, nil
}

// NewRootCommand builds the livefx command tree.
func NewRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to a YAML configuration file (default: ./config.yaml or ./livefx.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", config.DefaultBackend,
		fmt.Sprintf("Audio backend: %s, %s or %s",
			config.BackendPortAudio, config.BackendMalgo, config.BackendSimulated))
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newDevicesCommand(opts),
		newParamsCommand(),
	)
	return rootCmd
}

// Execute runs the command line with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

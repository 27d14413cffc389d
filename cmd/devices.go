// SPDX-License-Identifier: MIT
package cmd

import (
	"github.com/spf13/cobra"

	"livefx/internal/audio"
)

func newDevicesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			devices, err := audio.Devices(cfg.Audio.Backend)
			if err != nil {
				return err
			}
			audio.ListDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
}

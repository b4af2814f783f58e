package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modoterra/procwatch/pkg/manifest"
	"github.com/modoterra/procwatch/pkg/manifest/presets"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage procwatch.yaml manifest",
}

var (
	manifestInitRoot   string
	manifestInitOutput string
)

var manifestInitCmd = &cobra.Command{
	Use:   "init [preset]",
	Short: "Generate a procwatch.yaml manifest",
	Long:  "Available presets: laravel, node. Without a preset the project root is inspected.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen := presets.Generate
		if len(args) == 1 {
			switch args[0] {
			case "laravel":
				gen = presets.GenerateLaravel
			case "node":
				gen = presets.GenerateNode
			default:
				return fmt.Errorf("unknown preset: %s (available: laravel, node)", args[0])
			}
		}

		m, err := gen(manifestInitRoot)
		if err != nil {
			return err
		}
		if err := manifest.Save(manifestInitOutput, m); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Generated %s with %d processes\n", manifestInitOutput, len(m.Processes))
		for _, name := range m.ProcessNames() {
			fmt.Fprintf(out, "  %s: %s\n", name, m.Processes[name].Command)
		}
		return nil
	},
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a procwatch.yaml manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := manifest.FileName
		if len(args) > 0 {
			path = args[0]
		}

		m, err := manifest.Load(path)
		if err != nil {
			return err
		}

		errs := manifest.Validate(m)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d processes)\n", path, len(m.Processes))
			return nil
		}

		stderr := cmd.ErrOrStderr()
		for _, e := range errs {
			fmt.Fprintf(stderr, "  • %s\n", e)
		}
		return fmt.Errorf("%s: %d error(s)", path, len(errs))
	},
}

func init() {
	manifestInitCmd.Flags().StringVar(&manifestInitRoot, "root", ".", "project root directory")
	manifestInitCmd.Flags().StringVar(&manifestInitOutput, "output", manifest.FileName, "output file path")
	manifestCmd.AddCommand(manifestInitCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
}

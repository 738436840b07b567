// Command packspec manages the mobile dashboard packaging spec: generate the
// default file, validate an existing one, or print its parsed contents.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelbist/sentinel/internal/packaging"
)

const defaultSpecPath = "buildozer.spec"

func main() {
	root := &cobra.Command{
		Use:           "packspec",
		Short:         "Inspect and validate the mobile packaging configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newInitCmd(), newShowCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func specPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultSpecPath
}

func newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a packaging spec file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := specPath(args)
			spec, unknown, err := packaging.Load(path)
			if err != nil {
				return err
			}
			problems := packaging.Validate(spec, unknown)
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if !problems.Valid() {
				return fmt.Errorf("%s: %d error(s)", path, len(problems.Errors()))
			}
			if strict && len(problems) > 0 {
				return fmt.Errorf("%s: %d warning(s) (strict mode)", path, len(problems))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as failures")
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write the default packaging spec",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := specPath(args)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := packaging.Default().Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [file]",
		Short: "Print the parsed packaging spec",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := specPath(args)
			spec, unknown, err := packaging.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[app]\n")
			fmt.Fprintf(out, "  title:        %s\n", spec.App.Title)
			fmt.Fprintf(out, "  package:      %s.%s\n", spec.App.PackageDomain, spec.App.PackageName)
			fmt.Fprintf(out, "  version:      %s\n", spec.App.Version)
			fmt.Fprintf(out, "  requirements: %v\n", packaging.SplitList(spec.App.Requirements))
			fmt.Fprintf(out, "  orientation:  %s, fullscreen: %d\n", spec.App.Orientation, spec.App.Fullscreen)
			fmt.Fprintf(out, "[buildozer]\n")
			fmt.Fprintf(out, "  log_level: %d, warn_on_root: %d\n", spec.Buildozer.LogLevel, spec.Buildozer.WarnOnRoot)
			fmt.Fprintf(out, "[android]\n")
			fmt.Fprintf(out, "  api: %d (min %d), sdk: %d, ndk: %s\n", spec.Android.API, spec.Android.MinAPI, spec.Android.SDK, spec.Android.NDK)
			fmt.Fprintf(out, "  bootstrap: %s (branch %s)\n", spec.Android.P4ABootstrap, spec.Android.P4ABranch)
			fmt.Fprintf(out, "  archs:       %v\n", packaging.SplitList(spec.Android.Archs))
			fmt.Fprintf(out, "  permissions: %v\n", packaging.SplitList(spec.Android.Permissions))
			if len(unknown) > 0 {
				fmt.Fprintf(out, "unknown keys: %v\n", unknown)
			}
			return nil
		},
	}
}

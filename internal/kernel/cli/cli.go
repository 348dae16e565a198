// Package cli is the kernel's command-line surface (spec §6): a cobra
// root command with plugin list/enable/disable, run-stage, and --ping
// subcommands, bound to viper for config-dir flag/env resolution.
//
// Grounded on seaweedfs-seaweed-up's cmd/root.go (viper-bound persistent
// flags, cobra.Command tree) and cmd/version_cmd.go (leaf-command
// shape), generalized to the kernel's plugin/stage surface. The
// command-line front-end itself is out of the kernel's scope per spec
// §1 — this package is the thin external-interface realization spec §6
// asks to be kept "for completeness of externally observable behavior".
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiosk404/echoryn/internal/kernel/pluginreg"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

// Kernel is the minimal surface the CLI needs from a running kernel.
type Kernel struct {
	Plugins   *pluginreg.Registry
	Stages    *stage.Registry
	ConfigDir string
	DryRun    bool
}

var configDir string

// NewRootCommand builds the "echokernel" root command wired against k.
func NewRootCommand(k *Kernel) *cobra.Command {
	root := &cobra.Command{
		Use:   "echokernel",
		Short: "Modular application kernel command-line front-end",
		Long: `echokernel hosts the plugin registry, stage pipeline, and event
dispatcher described by the kernel's external interfaces. It is a thin
operator surface over the kernel runtime; concrete plugin behavior lives
in the plugins themselves.`,
	}

	var ping bool
	root.Flags().BoolVar(&ping, "ping", false, "print pong and exit")
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "kernel configuration directory")
	root.PersistentFlags().BoolVar(&k.DryRun, "dry-run", false, "skip stages that are not dry-run aware")
	viper.BindPFlag("config_dir", root.PersistentFlags().Lookup("config-dir"))
	viper.BindPFlag("dry_run", root.PersistentFlags().Lookup("dry-run"))

	root.RunE = func(cmd *cobra.Command, args []string) error {
		if ping {
			fmt.Println("pong")
			return nil
		}
		return cmd.Help()
	}

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if configDir != "" {
			k.ConfigDir = configDir
		}
	}

	root.AddCommand(newPluginCmd(k), newRunStageCmd(k))
	return root
}

func newPluginCmd(k *Kernel) *cobra.Command {
	pluginCmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugin enable/disable state",
	}

	pluginCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known plugins, their version, and enabled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range k.Plugins.List() {
				state := "enabled"
				if !e.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s\t%s\t%s\n", e.Manifest.Name, e.Manifest.Version.String(), state)
			}
			return nil
		},
	})

	pluginCmd.AddCommand(&cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Plugins.PersistEnable(args[0]); err != nil {
				return err
			}
			return nil
		},
	})

	pluginCmd.AddCommand(&cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Plugins.PersistDisable(args[0]); err != nil {
				return err
			}
			return nil
		},
	})

	return pluginCmd
}

// RunStageExitCode maps a run-stage outcome to the process exit code
// spec §6 assigns it: 0 on Success, 1 on Failure, 2 on validation error.
func RunStageExitCode(results map[string]stage.Result, runErr, buildErr error) int {
	if buildErr != nil {
		return 2
	}
	if runErr != nil {
		return 1
	}
	for _, r := range results {
		if r.Status == stage.Failure {
			return 1
		}
	}
	return 0
}

// ExitCodeError carries the concrete process exit code a command wants the
// caller to exit with, so cmd/echokernel/main.go's root.Execute() error
// handling can surface it via os.Exit instead of collapsing every command
// error to a uniform exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

func newRunStageCmd(k *Kernel) *cobra.Command {
	return &cobra.Command{
		Use:   "run-stage <id>",
		Short: "Build a one-stage pipeline and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			p, buildErr := stage.NewBuilder("run-stage:"+id).Add(id).Build(k.Stages)
			if buildErr != nil {
				cmd.SilenceUsage = true
				return &ExitCodeError{
					Code: RunStageExitCode(nil, nil, buildErr),
					Err:  fmt.Errorf("validation error: %w", buildErr),
				}
			}

			sc := stage.NewContext(k.ConfigDir, k.DryRun)
			results, runErr := p.Run(context.Background(), k.Stages, sc, nil)
			for id, r := range results {
				fmt.Printf("%s: %s %s\n", id, r.Status, r.Message)
			}

			if code := RunStageExitCode(results, runErr, nil); code != 0 {
				return &ExitCodeError{Code: code, Err: runErr}
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"queryengine/internal/core"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	stdout     io.Writer
	cfg        core.Config
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout}
	root := &cobra.Command{
		Use:           "qectl",
		Short:         "Inspect a versioned atom store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := core.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (toml, yaml or json); QUERYENGINE_* variables override it")

	root.AddCommand(
		newHistoryCommand(a),
		newShowCommand(a),
		newMembersCommand(a),
		newExportCommand(a),
	)
	return root
}

// withService opens the configured service for the duration of fn.
func (a *app) withService(ctx context.Context, fn func(*core.Service) error) error {
	svc, err := core.OpenService(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	return fn(svc)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

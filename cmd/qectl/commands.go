package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"queryengine/internal/core"
	"queryengine/pkg/domain"
)

func newHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List every committed version of an atom",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.withService(c.Context(), func(svc *core.Service) error {
				headers, err := svc.History(c.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(headers)
			})
		},
	}
}

func newShowCommand(a *app) *cobra.Command {
	var version uint64
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one version of an atom (latest by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.withService(c.Context(), func(svc *core.Service) error {
				var (
					atom domain.Atom
					err  error
				)
				if version == 0 {
					atom, err = svc.Latest(c.Context(), args[0])
				} else {
					atom, err = svc.Version(c.Context(), args[0], version)
				}
				if err != nil {
					return err
				}
				rec, err := domain.Encode(atom)
				if err != nil {
					return err
				}
				return a.print(rec)
			})
		},
	}
	cmd.Flags().Uint64VarP(&version, "version", "v", 0, "version to show; 0 selects the latest")
	return cmd
}

func newMembersCommand(a *app) *cobra.Command {
	var (
		version uint64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "members <set-id>",
		Short: "Stream the membership of a set version as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.withService(c.Context(), func(svc *core.Service) error {
				view, err := loadSetView(c, svc, args[0], version)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.stdout)
				n := 0
				for m, err := range view.Members(c.Context()) {
					if err != nil {
						return err
					}
					if err := enc.Encode(m); err != nil {
						return err
					}
					n++
					if limit > 0 && n >= limit {
						break
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64VarP(&version, "version", "v", 0, "set version; 0 selects the latest")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many members; 0 prints all")
	return cmd
}

// loadSetView loads id as whichever set kind it is stored as.
func loadSetView(c *cobra.Command, svc *core.Service, id string, version uint64) (core.SetView, error) {
	var (
		atom domain.Atom
		err  error
	)
	if version == 0 {
		atom, err = svc.Latest(c.Context(), id)
	} else {
		atom, err = svc.Version(c.Context(), id, version)
	}
	if err != nil {
		return core.SetView{}, err
	}
	switch atom.Kind() {
	case domain.KindFeatureSet:
		view, err := svc.LoadFeatureSetAt(c.Context(), id, atom.Meta().Version)
		return view.SetView, err
	case domain.KindTagSpecSet:
		view, err := svc.LoadTagSpecSetAt(c.Context(), id, atom.Meta().Version)
		return view.SetView, err
	default:
		return core.SetView{}, domain.InvalidAtomError{Kind: atom.Kind(), Field: "kind", Reason: "not a set"}
	}
}

func newExportCommand(a *app) *cobra.Command {
	var (
		version uint64
		opts    core.ExportOptions
	)
	cmd := &cobra.Command{
		Use:   "export <set-id>",
		Short: "Archive a set version to the configured blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			store, err := core.OpenBlobStore(c.Context(), a.cfg.Blob)
			if err != nil {
				return err
			}
			return a.withService(c.Context(), func(svc *core.Service) error {
				info, err := core.NewSetExporter(svc, store).Export(c.Context(), args[0], version, opts)
				if err != nil {
					return err
				}
				return a.print(info)
			})
		},
	}
	flags := cmd.Flags()
	flags.Uint64VarP(&version, "version", "v", 0, "set version; 0 selects the latest")
	flags.StringVar(&opts.Prefix, "prefix", "exports/", "key prefix inside the blob store")
	flags.BoolVar(&opts.Resolve, "resolve", false, "embed every member version in the archive")
	return cmd
}

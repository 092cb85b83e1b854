package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/report"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// withApp runs fn against the configured stack, cancelled on interrupt.
func withApp(opts *Options, fn func(ctx context.Context, a *app) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		fatal(err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	err = fn(ctx, a)
	a.Close(context.Background())
	if err != nil {
		fatal(err)
	}
}

func kindFlag(cmd *cobra.Command) mapping.Kind {
	s, _ := cmd.Flags().GetString("kind")
	kind, ok := mapping.ParseKind(s)
	if !ok {
		fatal(fmt.Errorf("--kind must be %q or %q", mapping.KindPremises, mapping.KindActivities))
	}
	return kind
}

// readCollection loads a GeoJSON file and the mapping to apply: the
// --mapping flag when given, else saved completed by auto-detection.
func readCollection(cmd *cobra.Command, path string, kind mapping.Kind, saved domain.FieldMapping) (*geo.FeatureCollection, domain.FieldMapping, error) {
	if !geo.AcceptedFile(path) {
		return nil, nil, fmt.Errorf("%s: use a .geojson or .json file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	fc, err := geo.Decode(data)
	if err != nil {
		return nil, nil, err
	}

	var m domain.FieldMapping
	if raw, _ := cmd.Flags().GetString("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, nil, fmt.Errorf("--mapping: %w", err)
		}
	} else {
		m = mapping.AutoMap(fc.Keys(), mapping.AliasesFor(kind)).Merge(saved)
	}
	if kind == mapping.KindPremises {
		m = mapping.WithDefaultTriggers(m)
	}
	return fc, m, nil
}

func printProgress(p importer.Progress) {
	fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", p.Percent, p.Message)
}

func importCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.geojson>",
		Short: "Import premises or activities from a GeoJSON file",
		Long: "Without --project a new project is created from a premises file. " +
			"With --project the records of --kind are replaced.",
		Args: cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			kind := kindFlag(cmd)
			projectID, _ := cmd.Flags().GetString("project")
			name, _ := cmd.Flags().GetString("name")

			withApp(opts, func(ctx context.Context, a *app) error {
				if projectID == "" {
					if kind != mapping.KindPremises {
						return fmt.Errorf("a new project is created from locali; pass --project to import %s", kind)
					}
					fc, m, err := readCollection(cmd, args[0], kind, nil)
					if err != nil {
						return err
					}
					p, err := a.services.Projects.CreateProject(ctx, service.CreateProjectInput{
						Name:       name,
						Collection: fc,
						Mapping:    m,
						Owner:      "local",
					})
					if err != nil {
						return err
					}
					fmt.Printf("Progetto %q creato con %d locali (id %s)\n", p.Name, p.Total, p.ID)
					return nil
				}

				project, err := a.services.Projects.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				saved := project.Config.Mapping
				if kind == mapping.KindActivities {
					saved = project.ActivityMapping
				}
				fc, m, err := readCollection(cmd, args[0], kind, saved)
				if err != nil {
					return err
				}
				res, err := a.services.Importer.Import(ctx, kind, projectID, fc, m, printProgress)
				if err != nil {
					return err
				}
				fmt.Println(res.Message())
				return nil
			})
		}),
	}
	cmd.Flags().StringP("kind", "k", string(mapping.KindPremises), "Record kind: locali or attivita")
	cmd.Flags().String("project", "", "Project whose records are replaced")
	cmd.Flags().String("name", "", "Name of the project to create")
	cmd.Flags().String("mapping", "", "Field mapping as JSON, e.g. {\"campo_stato\":\"STATO\"}")
	return cmd
}

func previewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <file.geojson>",
		Short: "Show how a GeoJSON file would be normalized, without importing it",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			kind := kindFlag(cmd)
			limit, _ := cmd.Flags().GetInt("limit")

			fc, m, err := readCollection(cmd, args[0], kind, nil)
			if err != nil {
				fatal(err)
			}

			fmt.Printf("File: %s, %d feature\n\nMappatura:\n", args[0], fc.Len())
			mt := &report.Table{Header: []string{"Campo", "Proprietà"}}
			for _, f := range mapping.FieldsFor(kind) {
				src, _ := m.Source(f.Key)
				mt.Add(f.Key, src)
			}
			mt.Markdown(os.Stdout)
			fmt.Println()

			if kind == mapping.KindActivities {
				report.Activities(mapping.Activities(fc, "", m), limit).Markdown(os.Stdout)
				return
			}
			premises := mapping.Premises(fc, "", m)
			report.Premises(premises, limit).Markdown(os.Stdout)
			fmt.Println()
			report.Stats(domain.StatsOf(premises)).Markdown(os.Stdout)
		}),
	}
	cmd.Flags().StringP("kind", "k", string(mapping.KindPremises), "Record kind: locali or attivita")
	cmd.Flags().IntP("limit", "n", 10, "Rows to show, 0 for all")
	cmd.Flags().String("mapping", "", "Field mapping as JSON")
	return cmd
}

func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export the records of a project as GeoJSON or CSV",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			kind := kindFlag(cmd)
			formatFlag, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			publish, _ := cmd.Flags().GetBool("publish")

			withApp(opts, func(ctx context.Context, a *app) error {
				format, err := export.ParseFormat(formatFlag)
				if err != nil {
					return err
				}
				if publish {
					if a.services.Sink == nil {
						return fmt.Errorf("no export sink configured: set export.dir or export.s3_bucket")
					}
					loc, err := a.services.Exporter.ExportTo(ctx, a.services.Sink, args[0], kind, format, service.PremiseFilter{})
					if err != nil {
						return err
					}
					fmt.Println(loc)
					return nil
				}

				f, err := a.services.Exporter.Export(ctx, args[0], kind, format, service.PremiseFilter{})
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = os.Stdout.Write(f.Data)
					return err
				}
				if err := os.WriteFile(output, f.Data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%s: %d byte\n", output, len(f.Data))
				return nil
			})
		}),
	}
	cmd.Flags().StringP("kind", "k", string(mapping.KindPremises), "Record kind: locali or attivita")
	cmd.Flags().StringP("format", "f", string(export.FormatGeoJSON), "Export format: geojson or csv")
	cmd.Flags().StringP("output", "o", "", "Output file, stdout when empty")
	cmd.Flags().Bool("publish", false, "Write to the configured export sink instead")
	return cmd
}

func tilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tiles <project-id>",
		Short: "Render the premises of a project into a PMTiles archive",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			withApp(opts, func(ctx context.Context, a *app) error {
				set, err := a.services.Tiles.Generate(ctx, args[0], func(pct int, msg string) {
					fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", pct, msg)
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d tile, %d locali\n", set.File, set.Tiles, set.Features)
				return nil
			})
		}),
	}
}

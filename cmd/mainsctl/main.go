package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/boundary"
	"github.com/mohammed-shakir/mains-analytics/internal/core/arcgis"
	"github.com/mohammed-shakir/mains-analytics/internal/core/config"
	"github.com/mohammed-shakir/mains-analytics/internal/core/fetcher"
	"github.com/mohammed-shakir/mains-analytics/internal/core/httpclient"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/logger"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(config.FromEnv()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "mainsctl",
		Short:        "One-shot water network analytics for a map view",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.LayersFile, "layers-file", cfg.LayersFile, "layer catalog yaml (default: built-in catalog)")
	root.PersistentFlags().StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "feature service root")

	root.AddCommand(newAnalyzeCmd(&cfg), newLayersCmd(&cfg), newFilterCmd(&cfg), newPopupsCmd())
	return root
}

func newAnalyzeCmd(cfg *config.Config) *cobra.Command {
	var (
		bbox        string
		layerKeys   string
		diameterMin string
		zoom        float64
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch the visible layers for a bounding box and print the analytics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := layers.LoadFile(cfg.LayersFile)
			if err != nil {
				return err
			}
			box, err := model.ParseBBox(bbox)
			if err != nil {
				return fmt.Errorf("--bbox: %w", err)
			}
			filter, err := model.ParseDiameterFilter(diameterMin)
			if err != nil {
				return fmt.Errorf("--diameter-min: %w", err)
			}
			visible := model.Visibility(catalog.DefaultVisibility())
			if strings.TrimSpace(layerKeys) != "" {
				visible = model.Visibility{}
				for k := range strings.SplitSeq(layerKeys, ",") {
					k = strings.TrimSpace(k)
					if _, err := catalog.Get(k); err != nil {
						return err
					}
					visible[k] = true
				}
			}

			zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true, Service: "mains-analytics", Component: "cli"}, cmd.ErrOrStderr())
			log := logger.NewSlog(&zl)

			f, err := fetcher.New(log, httpclient.NewOutbound(cfg.UpstreamTimeout), cfg.ServiceURL,
				fetcher.WithPageSize(cfg.PageSize), fetcher.WithMaxPages(cfg.MaxPages))
			if err != nil {
				return err
			}
			orch := analytics.New(log, f, catalog, nil, nil, analytics.Config{
				DiameterField: cfg.DiameterField,
				TopN:          cfg.TopN,
				Concurrency:   cfg.FetchConcurrency,
			})
			res, err := orch.Compute(cmd.Context(), viewstate.Snapshot{BBox: box, Zoom: zoom, Visible: visible, Filter: filter})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetEscapeHTML(false)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", cfg.InitialBBox, "view extent as west,south,east,north (WGS84)")
	cmd.Flags().StringVar(&layerKeys, "layers", "", "comma separated visible layer keys (default: catalog defaults)")
	cmd.Flags().StringVar(&diameterMin, "diameter-min", "", "minimum water main diameter")
	cmd.Flags().Float64Var(&zoom, "zoom", cfg.InitialZoom, "zoom level used for scale hints")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func printResult(w io.Writer, res analytics.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "View\t%s\n", res.BBox.String())
	if res.Filter.Set {
		fmt.Fprintf(tw, "Filter\t%s\n", res.Where)
	}
	fmt.Fprintln(tw)
	for _, row := range res.Summary {
		fmt.Fprintf(tw, "%s\t%s\n", row.Label, row.Display)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Diameter\tLength (km)")
	if len(res.Diameters) == 0 {
		fmt.Fprintln(tw, res.DiameterNote)
	}
	for _, row := range res.Diameters {
		fmt.Fprintf(tw, "%v\t%s\n", row.Diameter, row.Display)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(tw, "\nskipped features\t%d\n", res.Skipped)
	}
	return tw.Flush()
}

func newLayersCmd(cfg *config.Config) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "List the layer catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := layers.LoadFile(cfg.LayersFile)
			if err != nil {
				return err
			}
			if asYAML {
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"layers": catalog.All()})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tID\tNAME\tROLE\tMIN ZOOM\tDEFAULT")
			for _, l := range catalog.All() {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%v\t%t\n", l.Key, l.ID, l.Name, l.Role, l.MinZoom, l.DefaultVisible)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the catalog in layers-file format")
	return cmd
}

func newFilterCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "filter <min-diameter>",
		Short: "Validate a diameter filter and print the where clause it produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := model.ParseDiameterFilter(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), arcgis.WhereClause(cfg.DiameterField, f))
			return err
		},
	}
}

func newPopupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "popups <geojson-file>",
		Short: "Print the popup content of a boundary GeoJSON layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := boundary.Load(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, p := range l.Popups() {
				fmt.Fprintf(tw, "%s\n", p.Title)
				for _, kv := range p.Rows {
					fmt.Fprintf(tw, "  %s\t%s\n", kv.Key, kv.Value)
				}
			}
			return tw.Flush()
		},
	}
}

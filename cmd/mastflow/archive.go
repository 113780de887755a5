package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/config"
	"github.com/mastflow/mastflow/pkg/edb"
	"github.com/mastflow/mastflow/pkg/mast"
	"github.com/mastflow/mastflow/pkg/tui"
	"github.com/mastflow/mastflow/pkg/util"
)

// Archive command flags
var (
	// Query flags
	targetFlag      string
	raFlag          float64
	decFlag         float64
	radiusFlag      float64
	queryFormatFlag string
	filterFlags     []string
	columnsFlag     []string

	// Products flags
	obsIDFlag       string
	productTypeFlag string
	extensionFlag   string

	// Download flags
	uriFlag string

	// Fetch flags
	mnemonicFlag string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a target name to sky coordinates",
	Long: `Resolve an astronomical object name to its RA/Dec position.

Examples:
  mastflow resolve "M 101"
  mastflow resolve TRAPPIST-1`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the archive for observations",
}

var queryConeCmd = &cobra.Command{
	Use:   "cone",
	Short: "Search observations around a sky position",
	Long: `Run a cone search around a position given directly or resolved from a
target name.

Examples:
  mastflow query cone --target "M 101" --radius 0.1
  mastflow query cone --ra 210.80227 --dec 54.34895 --radius 0.2
  mastflow query cone --target TRAPPIST-1 --format json`,
	RunE: runQueryCone,
}

var queryCriteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Search observations by column filters",
	Long: `Query observations matching exact-value column filters. Repeat --filter
for each column; comma-separate alternative values.

Examples:
  mastflow query criteria --filter obs_collection=JWST --filter instrument_name=NIRCam
  mastflow query criteria --filter target_name=TRAPPIST-1 --filter dataproduct_type=timeseries
  mastflow query criteria --filter obs_collection=JWST --columns obs_id,target_name --format csv`,
	RunE: runQueryCriteria,
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List data products for an observation",
	Long: `List the files attached to one observation, keyed by the numeric
observation ID from a query.

Examples:
  mastflow products --obs-id 87602459
  mastflow products --obs-id 87602459 --type SCIENCE --extension fits`,
	RunE: runProducts,
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download one archive file by its data URI",
	Long: `Download a single file from the archive. Files are fetched one at a
time; there is no batching or resume.

Examples:
  mastflow download --uri mast:JWST/product/jw02734-o001_t001_niriss_clear-f150w_i2d.fits
  mastflow download --uri mast:JWST/product/jw02734-o001_t001_niriss_clear-f150w_i2d.fits -o i2d.fits`,
	RunE: runDownload,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Export raw engineering telemetry for one mnemonic",
	Long: `Fetch the engineering-database CSV export for one mnemonic over a time
window, unmodified. Feed the result to 'segment', or decode it yourself.

Examples:
  mastflow fetch -m SA_ZHGAUPAZ --start 2022-07-01 --end 2022-07-02
  mastflow fetch -m SA_ZHGAUPST --start "2022-07-01 06:00:00" --end "2022-07-01 18:00:00" -o st.csv`,
	RunE: runFetch,
}

func init() {
	// Cone search flags
	queryConeCmd.Flags().StringVarP(&targetFlag, "target", "t", "", "Target name to resolve (e.g. 'M 101')")
	queryConeCmd.Flags().Float64Var(&raFlag, "ra", 0, "Right ascension in degrees")
	queryConeCmd.Flags().Float64Var(&decFlag, "dec", 0, "Declination in degrees")
	queryConeCmd.Flags().Float64Var(&radiusFlag, "radius", 0.2, "Search radius in degrees")
	queryConeCmd.Flags().StringVar(&queryFormatFlag, "format", "table", "Output format (table, csv, json)")

	// Criteria query flags
	queryCriteriaCmd.Flags().StringArrayVar(&filterFlags, "filter", nil, "Column filter (column=value1,value2), repeatable")
	queryCriteriaCmd.Flags().StringSliceVar(&columnsFlag, "columns", nil, "Columns to request (default all)")
	queryCriteriaCmd.Flags().StringVar(&queryFormatFlag, "format", "table", "Output format (table, csv, json)")
	queryCriteriaCmd.MarkFlagRequired("filter")

	queryCmd.AddCommand(queryConeCmd)
	queryCmd.AddCommand(queryCriteriaCmd)

	// Products flags
	productsCmd.Flags().StringVar(&obsIDFlag, "obs-id", "", "Numeric observation ID from a query (required)")
	productsCmd.Flags().StringVar(&productTypeFlag, "type", "", "Keep only this product type (e.g. SCIENCE)")
	productsCmd.Flags().StringVar(&extensionFlag, "extension", "", "Keep only this file extension (e.g. fits)")
	productsCmd.Flags().StringVar(&queryFormatFlag, "format", "table", "Output format (table, csv, json)")
	productsCmd.MarkFlagRequired("obs-id")

	// Download flags
	downloadCmd.Flags().StringVar(&uriFlag, "uri", "", "mast: data URI to download (required)")
	downloadCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Destination path (derived from the URI if unset)")
	downloadCmd.MarkFlagRequired("uri")

	// Fetch flags
	fetchCmd.Flags().StringVarP(&mnemonicFlag, "mnemonic", "m", "", "Engineering mnemonic (required)")
	fetchCmd.Flags().StringVar(&startFlag, "start", "", "Window start (required)")
	fetchCmd.Flags().StringVar(&endFlag, "end", "", "Window end (required)")
	fetchCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Destination CSV (mnemonic name if unset)")
	fetchCmd.MarkFlagRequired("mnemonic")
	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagRequired("end")

	// Add commands
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(fetchCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	coords, err := client.ResolveName(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Name:     %s\n", coords.CanonicalName)
	fmt.Printf("RA:       %.6f\n", coords.RA)
	fmt.Printf("Dec:      %.6f\n", coords.Dec)
	if coords.ObjectType != "" {
		fmt.Printf("Type:     %s\n", coords.ObjectType)
	}
	if coords.Resolver != "" {
		fmt.Printf("Resolver: %s\n", coords.Resolver)
	}

	return nil
}

func runQueryCone(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	ra, dec := raFlag, decFlag
	if targetFlag != "" {
		coords, err := client.ResolveName(ctx, targetFlag)
		if err != nil {
			return err
		}
		ra, dec = coords.RA, coords.Dec
		if verbose {
			fmt.Printf("Resolved %s -> RA %.5f, Dec %.5f\n", targetFlag, ra, dec)
		}
	} else if !cmd.Flags().Changed("ra") || !cmd.Flags().Changed("dec") {
		return fmt.Errorf("either --target or both --ra and --dec are required")
	}

	obs, err := client.ConeSearch(ctx, ra, dec, radiusFlag)
	if err != nil {
		return err
	}

	return printObservations(obs, queryFormatFlag)
}

func runQueryCriteria(cmd *cobra.Command, args []string) error {
	filters, err := parseFilters(filterFlags)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	obs, err := client.QueryCriteria(ctx, filters, columnsFlag)
	if err != nil {
		return err
	}

	return printObservations(obs, queryFormatFlag)
}

func runProducts(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	products, err := client.Products(ctx, obsIDFlag)
	if err != nil {
		return err
	}

	filtered := make([]model.Product, 0, len(products))
	ext := strings.TrimPrefix(extensionFlag, ".")
	for _, p := range products {
		if productTypeFlag != "" && !strings.EqualFold(p.Type, productTypeFlag) {
			continue
		}
		if ext != "" && !strings.HasSuffix(p.URI, "."+ext) {
			continue
		}
		filtered = append(filtered, p)
	}

	return printProducts(filtered, queryFormatFlag)
}

func runDownload(cmd *cobra.Command, args []string) error {
	dest := outputFile
	if dest == "" {
		dest = mast.LocalName(uriFlag)
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	start := time.Now()
	written, err := downloadWithBar(ctx, client, uriFlag, dest)
	if err != nil {
		return err
	}

	fmt.Printf("Downloaded %s (%s) in %v\n",
		dest, util.HumanBytes(written), time.Since(start).Round(time.Millisecond))
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	start, err := parseTimeFlag(startFlag)
	if err != nil {
		return err
	}
	end, err := parseTimeFlag(endFlag)
	if err != nil {
		return err
	}

	req := edb.Request{Mnemonic: mnemonicFlag, Start: start, End: end}
	if err := req.Validate(); err != nil {
		return err
	}

	dest := outputFile
	if dest == "" {
		dest = strings.ToLower(mnemonicFlag) + ".csv"
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := newMastClient(config.Global().Get())

	began := time.Now()
	written, err := downloadWithBar(ctx, client, req.URI(), dest)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %s -> %s (%s) in %v\n",
		mnemonicFlag, dest, util.HumanBytes(written), time.Since(began).Round(time.Millisecond))
	return nil
}

// downloadWithBar streams one archive file to disk behind a byte
// progress bar. The bar is created on the first progress callback,
// once the expected total is known.
func downloadWithBar(ctx context.Context, client *mast.Client, uri, dest string) (int64, error) {
	var bar *progressbar.ProgressBar
	progress := func(written, total int64) {
		if bar == nil {
			bar = tui.DownloadBar(total, filepath.Base(dest))
		}
		_ = bar.Set64(written)
	}

	written, err := client.DownloadFile(ctx, uri, dest, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	return written, err
}

// parseFilters parses column=value1,value2 filter strings.
func parseFilters(flags []string) ([]mast.Filter, error) {
	filters := make([]mast.Filter, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("bad filter %q (want column=value1,value2)", f)
		}
		raw := strings.Split(parts[1], ",")
		values := make([]interface{}, 0, len(raw))
		for _, v := range raw {
			values = append(values, v)
		}
		filters = append(filters, mast.Filter{ParamName: parts[0], Values: values})
	}
	return filters, nil
}

func printObservations(obs []model.Observation, format string) error {
	switch format {
	case "", "table":
		if len(obs) == 0 {
			fmt.Println("No observations found.")
			return nil
		}
		rows := make([][]string, 0, len(obs))
		for _, o := range obs {
			rows = append(rows, []string{
				o.ProductGroupID,
				o.ObsID,
				o.Collection,
				o.Instrument,
				o.Filters,
				o.TargetName,
				fmt.Sprintf("%.4f", o.RA),
				fmt.Sprintf("%.4f", o.Dec),
			})
		}
		tui.Table([]string{"OBSID", "OBS ID", "COLLECTION", "INSTRUMENT", "FILTERS", "TARGET", "RA", "DEC"}, rows)
		fmt.Printf("\n%d observations\n", len(obs))
		return nil

	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"obsid", "obs_id", "obs_collection", "instrument_name", "filters",
			"target_name", "s_ra", "s_dec", "t_min", "t_max", "t_exptime", "dataproduct_type", "calib_level"})
		for _, o := range obs {
			w.Write([]string{
				o.ProductGroupID,
				o.ObsID,
				o.Collection,
				o.Instrument,
				o.Filters,
				o.TargetName,
				strconv.FormatFloat(o.RA, 'f', -1, 64),
				strconv.FormatFloat(o.Dec, 'f', -1, 64),
				strconv.FormatFloat(o.TMin, 'f', -1, 64),
				strconv.FormatFloat(o.TMax, 'f', -1, 64),
				strconv.FormatFloat(o.ExposureTime, 'f', -1, 64),
				o.DataproductType,
				strconv.Itoa(o.CalibLevel),
			})
		}
		w.Flush()
		return w.Error()

	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(obs)

	default:
		return fmt.Errorf("unknown output format %q (want table, csv, or json)", format)
	}
}

func printProducts(products []model.Product, format string) error {
	switch format {
	case "", "table":
		if len(products) == 0 {
			fmt.Println("No matching products.")
			return nil
		}
		var total int64
		rows := make([][]string, 0, len(products))
		for _, p := range products {
			total += p.Size
			rows = append(rows, []string{
				p.Type,
				p.Subgroup,
				util.HumanBytes(p.Size),
				p.URI,
			})
		}
		tui.Table([]string{"TYPE", "SUBGROUP", "SIZE", "URI"}, rows)
		fmt.Printf("\n%d products, %s total\n", len(products), util.HumanBytes(total))
		return nil

	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"obs_id", "type", "subgroup", "description", "size", "uri"})
		for _, p := range products {
			w.Write([]string{
				p.ObsID,
				p.Type,
				p.Subgroup,
				p.Description,
				strconv.FormatInt(p.Size, 10),
				p.URI,
			})
		}
		w.Flush()
		return w.Error()

	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(products)

	default:
		return fmt.Errorf("unknown output format %q (want table, csv, or json)", format)
	}
}

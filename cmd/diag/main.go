// Command diag runs one-off propagation and lookup checks against the same
// packages the server uses.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orrery/internal/elements"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/orbit"
	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/tracker"
	"github.com/star/orrery/internal/transform"
)

const deg = math.Pi / 180

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

var rootCmd = &cobra.Command{
	Use:           "diag",
	Short:         "Orbital propagation diagnostics",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "Propagate classical elements to a Julian Date",
	Long: `
Propagate heliocentric elements (AU, degrees, JD) with the conic propagator.

Examples:
  # Earth at J2000
  diag propagate --a 1.00000261 --e 0.01671123 --node -11.26064 --peri 102.94719 --m 100.46435 --epoch 2451545

  # Parabolic comet from periapsis distance and time of perihelion
  diag propagate --e 1 --q 0.5 --tp 2460000.5 --jd 2460030.5
`,
	Args: cobra.NoArgs,
	RunE: runPropagate,
}

var bodyCmd = &cobra.Command{
	Use:   "body <id>",
	Short: "Show a planet's analytic state from the built-in table",
	Args:  cobra.ExactArgs(1),
	RunE:  runBody,
}

var horizonsCmd = &cobra.Command{
	Use:   "horizons <id>",
	Short: "Fetch one Horizons vector sample and compare it with the analytic table",
	Args:  cobra.ExactArgs(1),
	RunE:  runHorizons,
}

var crossingCmd = &cobra.Command{
	Use:   "crossing",
	Short: "Predict the next equator crossing of a satellite",
	Long: `
Predict the next equator crossing from a TLE file (3-line format) or a
line pair given on the command line.

Examples:
  diag crossing --file stations.txt --norad 25544
  diag crossing --line1 "1 25544U ..." --line2 "2 25544 ..." --from 2026-02-06T00:00:00Z
`,
	Args: cobra.NoArgs,
	RunE: runCrossing,
}

var sbdbCmd = &cobra.Command{
	Use:   "sbdb",
	Short: "Small-body lookups",
}

var sbdbLookupCmd = &cobra.Command{
	Use:   "lookup <designator>",
	Short: "Look up a small body in JPL SBDB and normalize its elements",
	Args:  cobra.ExactArgs(1),
	RunE:  runSBDBLookup,
}

var sbdbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the small-body index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSBDBSearch,
}

// Command-line flags
var (
	// Elements, in AU / degrees / JD
	flagA, flagE, flagI, flagNode, flagPeri, flagM, flagEpoch float64
	flagQ, flagTp                                             float64

	flagJD   float64
	flagFrom string

	// Satellites
	flagFile, flagLine1, flagLine2, flagModel string
	flagNORAD                                 int

	// Services
	flagHorizonsURL string
	flagSBDBURL     string
	flagIndex       string
	flagLimit       int
)

func init() {
	pf := propagateCmd.Flags()
	pf.Float64Var(&flagA, "a", 0, "semi-major axis (AU, negative for hyperbolic)")
	pf.Float64Var(&flagE, "e", 0, "eccentricity")
	pf.Float64Var(&flagI, "i", 0, "inclination (deg)")
	pf.Float64Var(&flagNode, "node", 0, "longitude of ascending node (deg)")
	pf.Float64Var(&flagPeri, "peri", 0, "argument of periapsis (deg)")
	pf.Float64Var(&flagM, "m", 0, "mean anomaly at epoch (deg)")
	pf.Float64Var(&flagEpoch, "epoch", 0, "epoch of the mean anomaly (JD)")
	pf.Float64Var(&flagQ, "q", 0, "periapsis distance (AU)")
	pf.Float64Var(&flagTp, "tp", 0, "time of periapsis passage (JD)")
	pf.Float64Var(&flagJD, "jd", 0, "target Julian Date (default: epoch, then tp)")

	bodyCmd.Flags().Float64Var(&flagJD, "jd", 0, "target Julian Date (default: now)")

	horizonsCmd.Flags().Float64Var(&flagJD, "jd", 0, "target Julian Date (default: now)")
	horizonsCmd.Flags().StringVar(&flagHorizonsURL, "url", ephemeris.DefaultHorizonsURL, "Horizons API endpoint")

	cf := crossingCmd.Flags()
	cf.StringVar(&flagFile, "file", "", "TLE file in 3-line format")
	cf.IntVar(&flagNORAD, "norad", 0, "catalog number to pick from --file")
	cf.StringVar(&flagLine1, "line1", "", "TLE line 1")
	cf.StringVar(&flagLine2, "line2", "", "TLE line 2")
	cf.StringVar(&flagModel, "model", "sgp4", "propagation model: sgp4 or kepler")
	cf.StringVar(&flagFrom, "from", "", "search start, RFC 3339 (default: now)")

	sbdbLookupCmd.Flags().StringVar(&flagSBDBURL, "url", elements.DefaultSBDBURL, "SBDB API endpoint")
	sbdbSearchCmd.Flags().StringVar(&flagIndex, "index", "", "small-body index file (JSON or gzipped JSON)")
	sbdbSearchCmd.Flags().IntVar(&flagLimit, "limit", 10, "maximum results")
	sbdbSearchCmd.MarkFlagRequired("index")

	sbdbCmd.AddCommand(sbdbLookupCmd, sbdbSearchCmd)
	rootCmd.AddCommand(propagateCmd, bodyCmd, horizonsCmd, crossingCmd, sbdbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jdOrNow(jd float64) float64 {
	if jd != 0 {
		return jd
	}
	return transform.JulianDate(time.Now())
}

type stateOutput struct {
	JD          float64    `json:"jd"`
	Time        time.Time  `json:"time"`
	Source      string     `json:"source,omitempty"`
	Provenance  string     `json:"provenance,omitempty"`
	Regime      string     `json:"regime"`
	PositionAU  orbit.Vec3 `json:"position_au"`
	VelocityAU  orbit.Vec3 `json:"velocity_au_per_day"`
	DistanceAU  float64    `json:"distance_au"`
	TrueAnomaly float64    `json:"true_anomaly_deg"`
	Converged   bool       `json:"converged"`
}

func outputOf(els orbit.Elements, sv orbit.StateVector) stateOutput {
	return stateOutput{
		JD:          sv.Time,
		Time:        transform.TimeFromJD(sv.Time),
		Provenance:  els.Provenance,
		Regime:      sv.Regime.String(),
		PositionAU:  sv.Position,
		VelocityAU:  sv.Velocity,
		DistanceAU:  sv.Position.Norm(),
		TrueAnomaly: sv.TrueAnomaly / deg,
		Converged:   sv.Converged,
	}
}

func runPropagate(cmd *cobra.Command, args []string) error {
	els := orbit.Elements{
		A:          flagA,
		E:          flagE,
		I:          flagI * deg,
		Node:       flagNode * deg,
		Peri:       flagPeri * deg,
		M:          flagM * deg,
		Epoch:      flagEpoch,
		Q:          flagQ,
		Tp:         flagTp,
		Provenance: "cli",
	}
	jd := flagJD
	if jd == 0 {
		jd = flagEpoch
	}
	if jd == 0 {
		jd = flagTp
	}
	if jd == 0 {
		return fmt.Errorf("no target time: set --jd, --epoch or --tp")
	}

	sv, err := orbit.Propagate(els, jd)
	if err != nil {
		return err
	}
	return printJSON(outputOf(els, sv))
}

func runBody(cmd *cobra.Command, args []string) error {
	table := elements.DefaultTable()
	jd := jdOrNow(flagJD)
	els, ok := table.ElementsAt(args[0], jd)
	if !ok {
		return fmt.Errorf("%w: %s (known: %s)", ephemeris.ErrUnknownBody, args[0], strings.Join(table.Bodies(), ", "))
	}
	sv, err := orbit.Propagate(els, jd)
	if err != nil {
		return err
	}
	out := outputOf(els, sv)
	out.Source = string(ephemeris.SourceAnalytic)
	return printJSON(out)
}

func runHorizons(cmd *cobra.Command, args []string) error {
	body := args[0]
	jd := jdOrNow(flagJD)

	ctx, cancel := context.WithTimeout(cmd.Context(), 45*time.Second)
	defer cancel()

	resolver := ephemeris.NewResolver(ephemeris.NewHorizonsFetcher(flagHorizonsURL, 1, logger), elements.DefaultTable())
	sample, err := resolver.Fetch(ctx, body, jd)
	if err != nil {
		return err
	}
	fmt.Printf("Horizons   %s at JD %.6f: r = %.9f AU  pos = %v\n", body, sample.Time, sample.Position.Norm(), sample.Position)

	analytic, err := resolver.Analytic(body, sample.Time)
	if err != nil {
		fmt.Println("no analytic elements for this body")
		return nil
	}
	d := orbit.Vec3{
		analytic.Position[0] - sample.Position[0],
		analytic.Position[1] - sample.Position[1],
		analytic.Position[2] - sample.Position[2],
	}
	fmt.Printf("Analytic   %s at JD %.6f: r = %.9f AU  pos = %v\n", body, analytic.Time, analytic.Position.Norm(), analytic.Position)
	fmt.Printf("Difference %.6f AU (%.0f km)\n", d.Norm(), d.Norm()*149597870.7)
	return nil
}

func crossingEntry() (tle.Entry, error) {
	if flagLine1 != "" || flagLine2 != "" {
		return tle.ParseEntry("", flagLine1, flagLine2)
	}
	if flagFile == "" {
		return tle.Entry{}, fmt.Errorf("set --file or --line1/--line2")
	}

	data, err := os.ReadFile(flagFile)
	if err != nil {
		return tle.Entry{}, fmt.Errorf("reading TLE file: %w", err)
	}
	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		return tle.Entry{}, fmt.Errorf("parsing TLE file: %w", err)
	}
	if len(entries) == 0 {
		return tle.Entry{}, fmt.Errorf("%w in %s", tle.ErrNotFound, flagFile)
	}
	if flagNORAD == 0 {
		return entries[0], nil
	}
	ds := tle.NewDataset(flagFile, time.Now(), entries)
	e, ok := ds.Find(flagNORAD)
	if !ok {
		return tle.Entry{}, fmt.Errorf("NORAD %d not in %s", flagNORAD, flagFile)
	}
	return e, nil
}

func runCrossing(cmd *cobra.Command, args []string) error {
	entry, err := crossingEntry()
	if err != nil {
		return err
	}
	factory, err := tracker.Factory(flagModel)
	if err != nil {
		return err
	}
	model, err := factory(entry)
	if err != nil {
		return err
	}

	from := time.Now().UTC()
	if flagFrom != "" {
		if from, err = time.Parse(time.RFC3339, flagFrom); err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
	}

	fmt.Printf("%s (NORAD %d) epoch %v, model %s\n", entry.Name, entry.NORADID, entry.Epoch.Format(time.RFC3339), flagModel)
	c, found := tracker.PredictEquatorCrossing(model, from)
	if !found {
		fmt.Printf("no equator crossing within 6h of %v\n", from.Format(time.RFC3339))
		return nil
	}
	dir := "descending"
	if c.Ascending {
		dir = "ascending"
	}
	fmt.Printf("next crossing %v (+%v) lon %.3f° lat %.4f° %s\n",
		c.Time.Format(time.RFC3339), c.Time.Sub(from).Round(time.Second), c.Longitude, c.Latitude, dir)
	return nil
}

func runSBDBLookup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client := elements.NewSBDBClient(flagSBDBURL, 1, logger)
	raw, err := client.Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	els, err := elements.Normalize(raw)
	if err != nil {
		return err
	}

	q, _ := els.Periapsis()
	fmt.Printf("%s  shape=%s  provenance=%s\n", raw.Designator, raw.Shape, els.Provenance)
	fmt.Printf("  regime %s  e=%.8f  q=%.8f AU  i=%.5f°  Ω=%.5f°  ω=%.5f°\n",
		els.Regime(), els.E, q, els.I/deg, els.Node/deg, els.Peri/deg)
	if a, ok := els.SemiMajorAxis(); ok {
		fmt.Printf("  a=%.8f AU", a)
		if p := els.Period(); p > 0 {
			fmt.Printf("  period=%.2f d", p)
		}
		fmt.Println()
	}

	sv, err := orbit.Propagate(els, transform.JulianDate(time.Now()))
	if err != nil {
		return err
	}
	return printJSON(outputOf(els, sv))
}

func runSBDBSearch(cmd *cobra.Command, args []string) error {
	idx, err := elements.LoadIndex(flagIndex)
	if err != nil {
		return err
	}
	hits := idx.Search(args[0], flagLimit)
	fmt.Printf("%d of %d asteroids / %d comets match %q\n",
		len(hits), idx.Metadata.AsteroidCount, idx.Metadata.CometCount, args[0])
	for _, h := range hits {
		name := h.Name
		if name == "" {
			name = h.Designation
		}
		fmt.Printf("  %-4s %-12s %-30s lookup as %q\n", h.Type, h.Number, name, h.Designator())
	}
	return nil
}

// yieldstored maintains and queries the partitioned market-data store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xtxerr/yieldstore/internal/ingest"
	"github.com/xtxerr/yieldstore/internal/logging"
	"github.com/xtxerr/yieldstore/internal/market"
	"github.com/xtxerr/yieldstore/internal/storage"
	"github.com/xtxerr/yieldstore/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `yieldstored %s

Usage: yieldstored [flags] <command> [command flags]

Commands:
  ingest         merge provider CSV batches into the store
  query          print price rows for a ticker
  fundamentals   print fundamentals rows for a ticker
  ttm            print trailing-twelve-month sums for a ticker
  summary        print per-ticker coverage and distribution summaries
  tickers        list tickers stored in a dataset
  rebuild-index  recompute the partition catalog from disk

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Usage = usage
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer svc.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, svc, cfg, cmd, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func run(ctx context.Context, svc *storage.Service, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "ingest":
		return runIngest(ctx, svc, cfg, args)
	case "query":
		return runQuery(ctx, svc, args)
	case "fundamentals":
		return runFundamentals(ctx, svc, args)
	case "ttm":
		return runTTM(ctx, svc, args)
	case "summary":
		return runSummary(ctx, svc)
	case "tickers":
		return runTickers(ctx, svc, args)
	case "rebuild-index":
		return svc.RebuildIndex(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runIngest(ctx context.Context, svc *storage.Service, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of provider CSV batches")
	tickers := fs.String("tickers", "", "comma-separated tickers")
	fundamentals := fs.Bool("fundamentals", false, "also ingest fundamentals")
	fs.Parse(args)

	if *dir == "" || *tickers == "" {
		return fmt.Errorf("-dir and -tickers are required")
	}

	ing, err := ingest.New(svc, ingest.CSVProvider{Dir: *dir}, cfg.Ingest)
	if err != nil {
		return err
	}
	report, err := ing.UpdateAll(ctx, splitTickers(*tickers), *fundamentals)
	if err != nil {
		return err
	}

	fmt.Printf("tickers=%d prices=%d fundamentals=%d dropped=%d failures=%d\n",
		report.TickersProcessed, report.PricesWritten,
		report.FundamentalsWritten, report.RowsDropped, len(report.Failures))
	for _, t := range report.Failed() {
		fmt.Printf("FAILED %s: %v\n", t, report.Failures[t])
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d ticker(s) failed", len(report.Failures))
	}
	return nil
}

func runQuery(ctx context.Context, svc *storage.Service, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	ticker := fs.String("ticker", "", "ticker symbol")
	from := fs.String("from", "", "start date (inclusive)")
	to := fs.String("to", "", "end date (inclusive)")
	limit := fs.Int("limit", 0, "row limit")
	fs.Parse(args)

	q := svc.Query().Prices()
	if *ticker != "" {
		q.Ticker(*ticker)
	}
	if *from != "" {
		d, err := market.ParseDate(*from)
		if err != nil {
			return err
		}
		q.From(d)
	}
	if *to != "" {
		d, err := market.ParseDate(*to)
		if err != nil {
			return err
		}
		q.To(d)
	}
	if *limit > 0 {
		q.Limit(*limit)
	}

	fmt.Println("ticker\tdate\topen\thigh\tlow\tclose\tadj_close\tvolume")
	return q.Each(ctx, func(r market.PriceRow) error {
		fmt.Printf("%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%d\n",
			r.Ticker, r.Date, r.Open, r.High, r.Low, r.Close, r.AdjClose, r.Volume)
		return nil
	})
}

func runFundamentals(ctx context.Context, svc *storage.Service, args []string) error {
	fs := flag.NewFlagSet("fundamentals", flag.ExitOnError)
	ticker := fs.String("ticker", "", "ticker symbol")
	period := fs.String("period", "quarterly", "period type (quarterly or annual)")
	fs.Parse(args)

	ds := market.DatasetFundamentalsQuarterly
	if *period == "annual" {
		ds = market.DatasetFundamentalsAnnual
	}

	q := svc.Query().Fundamentals(ds)
	if *ticker != "" {
		q.Ticker(*ticker)
	}

	fmt.Println("ticker\tfiscal_period\treport_date\trevenue\tnet_income\teps")
	return q.Each(ctx, func(r market.FundamentalsRow) error {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Ticker, r.FiscalPeriod, r.ReportDate,
			fmtNullable(r.Revenue), fmtNullable(r.NetIncome), fmtNullable(r.EPS))
		return nil
	})
}

func runTTM(ctx context.Context, svc *storage.Service, args []string) error {
	fs := flag.NewFlagSet("ttm", flag.ExitOnError)
	ticker := fs.String("ticker", "", "ticker symbol")
	asOf := fs.String("as-of", "", "fiscal period cutoff (e.g. 2024-Q2)")
	fs.Parse(args)

	if *ticker == "" {
		return fmt.Errorf("-ticker is required")
	}
	res, err := svc.Query().TTM(ctx, *ticker, *asOf)
	if err != nil {
		return err
	}
	fmt.Printf("ticker=%s quarters=%d last_period=%s revenue=%s net_income=%s eps=%s ocf=%s\n",
		res.Ticker, res.Quarters, res.LastPeriod,
		fmtNullable(res.Revenue), fmtNullable(res.NetIncome),
		fmtNullable(res.EPS), fmtNullable(res.OperatingCashFlow))
	return nil
}

func runSummary(ctx context.Context, svc *storage.Service) error {
	sums, err := svc.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Println("ticker\trows\tmin_date\tmax_date\tclose_p50\tclose_p90\tvolume_p50")
	for _, s := range sums {
		fmt.Printf("%s\t%d\t%s\t%s\t%.2f\t%.2f\t%.0f\n",
			s.Ticker, s.Rows, s.MinDate, s.MaxDate, s.CloseP50, s.CloseP90, s.VolumeP50)
	}
	return nil
}

func runTickers(ctx context.Context, svc *storage.Service, args []string) error {
	fs := flag.NewFlagSet("tickers", flag.ExitOnError)
	dataset := fs.String("dataset", "prices", "dataset name")
	fs.Parse(args)

	ds, err := market.ParseDataset(*dataset)
	if err != nil {
		return err
	}
	tickers, err := svc.Query().ListTickers(ctx, ds)
	if err != nil {
		return err
	}
	for _, t := range tickers {
		fmt.Println(t)
	}
	return nil
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func fmtNullable(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

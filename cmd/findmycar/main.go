package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/thetangstr/findmycar/internal/cache"
	"github.com/thetangstr/findmycar/internal/config"
	httpapi "github.com/thetangstr/findmycar/internal/interfaces/http"
	"github.com/thetangstr/findmycar/internal/models"
)

const (
	appName = "findmycar"
	version = "v1.2.0"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Federated vehicle listing search",
		Version: version,
		Long: `findmycar aggregates vehicle listings from marketplace APIs, dealer feeds
and scraped inventory pages into one deduplicated, ranked search, backed by a
persistent local index and a background freshness scheduler.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(serveCmd(), searchCmd(), refreshCmd(), prewarmCmd(), reportCmd(), healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.sched.Start(ctx); err != nil {
				return err
			}
			defer a.sched.Stop()

			if len(cfg.Cache.PrewarmQueries) > 0 {
				pw := cache.NewPrewarmer(a.tiered, a.orch.Prewarm, cfg.Cache.PrewarmQueries, 15*time.Minute)
				pw.Start(ctx)
			}

			srvCfg := httpapi.DefaultServerConfig()
			srvCfg.Host = cfg.Server.Host
			srvCfg.Port = cfg.Server.Port
			srv, err := httpapi.NewServer(srvCfg, a.orch, a.registry, a.breakers, a.limiter, a.tiered, a.idx, a.sched)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Bind host (default from config, loopback)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (default from config)")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		makeFlag   string
		yearMin    int
		yearMax    int
		priceMax   float64
		perPage    int
		deadlineMS int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one search from the command line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			req := models.SearchRequest{PerPage: perPage, Page: 1}
			if len(args) == 1 {
				req.Query = args[0]
			}
			req.Filters.Make = makeFlag
			if yearMin > 0 {
				req.Filters.YearMin = &yearMin
			}
			if yearMax > 0 {
				req.Filters.YearMax = &yearMax
			}
			if priceMax > 0 {
				req.Filters.PriceMax = &priceMax
			}
			if deadlineMS > 0 {
				d := time.Duration(deadlineMS) * time.Millisecond
				req.Deadline = &d
			}

			resp, err := a.orch.Search(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			printResults(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&makeFlag, "make", "", "Filter by make")
	cmd.Flags().IntVar(&yearMin, "year-min", 0, "Minimum model year")
	cmd.Flags().IntVar(&yearMax, "year-max", 0, "Maximum model year")
	cmd.Flags().Float64Var(&priceMax, "price-max", 0, "Maximum price")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "Results per page")
	cmd.Flags().IntVar(&deadlineMS, "deadline-ms", 0, "Search deadline in milliseconds")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func refreshCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one stale-listing refresh sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.sched.Start(ctx); err != nil {
				return err
			}
			a.sched.TriggerStaleSweep(ctx)

			deadline := time.After(wait)
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for a.sched.QueueDepth() > 0 {
				select {
				case <-ctx.Done():
					a.sched.Stop()
					return ctx.Err()
				case <-deadline:
					log.Warn().Int("remaining", a.sched.QueueDepth()).Msg("refresh wait elapsed")
					a.sched.Stop()
					return nil
				case <-ticker.C:
				}
			}
			a.sched.Stop()
			log.Info().Msg("refresh sweep complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "Maximum time to wait for the queue to drain")
	return cmd
}

func prewarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prewarm",
		Short: "Run the configured prewarm queries once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if len(cfg.Cache.PrewarmQueries) == 0 {
				return fmt.Errorf("no prewarm queries configured under cache.prewarm_queries")
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			for _, q := range cfg.Cache.PrewarmQueries {
				key, value, count, err := a.orch.Prewarm(ctx, q)
				if err != nil {
					log.Warn().Str("query", q).Err(err).Msg("prewarm search failed")
					continue
				}
				if err := a.tiered.Put(ctx, key, value, count, cache.TierWarm); err != nil {
					log.Warn().Str("query", q).Err(err).Msg("prewarm cache write failed")
					continue
				}
				log.Info().Str("query", q).Int("results", count).Msg("prewarmed")
			}
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the inventory freshness report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.sched.TriggerReport(ctx)
			if report == nil {
				return fmt.Errorf("report generation failed, see log")
			}
			return printJSON(report)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every registered source and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			statuses := a.registry.CheckHealth(ctx, 10*time.Second)
			for tag, st := range statuses {
				line := log.Info()
				if st.State != "healthy" {
					line = log.Warn()
				}
				line.Str("source", tag).Str("state", string(st.State)).
					Str("message", st.Message).Msg("health probe")
			}
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(resp models.SearchResponse) {
	fmt.Printf("%d results (%d local, %d live) in %s", resp.Total, resp.LocalCount, resp.LiveCount, resp.SearchTime.Round(time.Millisecond))
	if resp.Partial {
		fmt.Printf("  [partial: %v failed]", resp.SourcesFailed)
	}
	fmt.Println()
	for _, l := range resp.Listings {
		price := "   n/a  "
		if l.Price != nil {
			price = fmt.Sprintf("$%7.0f", *l.Price)
		}
		miles := "     n/a"
		if l.Mileage != nil {
			miles = fmt.Sprintf("%6dmi", *l.Mileage)
		}
		fmt.Printf("  %3d  %s  %s  %-40.40s  %s\n", l.RelevanceScore, price, miles, l.Title, l.Source)
	}
}

// pairctl is the operator CLI for the pairing plane.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/config"
	"github.com/agentoven/agentoven/pairing-plane/internal/matching"
	"github.com/agentoven/agentoven/pairing-plane/internal/retention"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/agentoven/agentoven/pairing-plane/pkg/server"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	matchFile     string
	matchStrategy string
	matchSeed     int64
	purgeOlder    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "pairctl",
	Short:         "Operate the bot pairing plane",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			os.Setenv("PAIRING_CONFIG", configPath)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pairing plane server",
	RunE:  runServe,
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the available pairing strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range matching.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Dry-run a strategy against a JSON list of bots",
	Long: `Run the matching engine offline against a file of bots and print the
pairs it would create. Only bots with status "online" are candidates.

Examples:
  pairctl match --file bots.json
  pairctl match --file bots.json --strategy type_based
  pairctl match --file - --strategy default --seed 42 < bots.json`,
	RunE: runMatch,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Archive and delete terminated pairs once",
	Long: `Run a single retention cycle against the configured store. Terminated
pairs older than --older-than (default: the configured retention) are
archived to the archive dir, when one is configured, and then deleted.`,
	RunE: runPurge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	matchCmd.Flags().StringVarP(&matchFile, "file", "f", "", "JSON file with a list of bots (- for stdin)")
	matchCmd.Flags().StringVarP(&matchStrategy, "strategy", "s", models.DefaultStrategy, "pairing strategy")
	matchCmd.Flags().Int64Var(&matchSeed, "seed", 0, "random seed (0 uses the clock)")
	_ = matchCmd.MarkFlagRequired("file")

	purgeCmd.Flags().DurationVar(&purgeOlder, "older-than", 0, "retention window (overrides config)")

	rootCmd.AddCommand(serveCmd, strategiesCmd, matchCmd, purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	server.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Start(ctx, cfg)
}

func runMatch(cmd *cobra.Command, args []string) error {
	policy, ok := matching.Lookup(matchStrategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q (available: %v)", matchStrategy, matching.Names())
	}

	candidates, err := readBots(cmd.InOrStdin(), matchFile)
	if err != nil {
		return err
	}

	engine := matching.NewEngine()
	if matchSeed != 0 {
		engine = matching.NewSeededEngine(matchSeed)
	}
	printPairings(cmd.OutOrStdout(), engine.Match(candidates, policy))
	return nil
}

// readBots loads a bot list and keeps the online ones.
func readBots(stdin io.Reader, path string) ([]models.Bot, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var all []models.Bot
	if err := json.NewDecoder(r).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode bots: %w", err)
	}

	online := make([]models.Bot, 0, len(all))
	for _, b := range all {
		if b.Status == "" || b.Status == models.BotStatusOnline {
			online = append(online, b)
		}
	}
	return online, nil
}

func printPairings(w io.Writer, pairs []matching.Pairing) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIMARY\tTYPE\tSECONDARY\tTYPE\tSCORE")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\n",
			label(p.Primary), p.Primary.Type,
			label(p.Secondary), p.Secondary.Type,
			matching.Compatibility(p.Primary.Capabilities, p.Secondary.Capabilities))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d pair(s)\n", len(pairs))
}

func label(b models.Bot) string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	server.SetupLogging(cfg.Log)

	ttl := cfg.Retention.PairTTL
	if purgeOlder > 0 {
		ttl = purgeOlder
	}
	if ttl <= 0 {
		return fmt.Errorf("no retention window: set --older-than or retention.pair_ttl")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	s, err := server.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	var archiver retention.Archiver
	if cfg.Retention.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.ArchiveCompress)
	}

	stats := retention.NewJanitor(s, ttl, time.Hour, archiver).RunCycle(ctx)
	if stats.Err != nil {
		return stats.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "archived %d, purged %d\n", stats.Archived, stats.Purged)
	if stats.ArchivePath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "archive: %s\n", stats.ArchivePath)
	}
	return nil
}

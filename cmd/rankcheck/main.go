package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"match-ingest/internal/app"
	"match-ingest/internal/ladder"
	"match-ingest/internal/ratelimit"
	"match-ingest/internal/riot"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", app.DefaultConfigPath(), "Optional YAML config file")
	riotID := flag.String("riot-id", "", "Optional Riot ID in format 'GameName#TagLine' to rank-check")
	preview := flag.Int("preview", 10, "Number of ladder seeds to resolve (0 skips the preview)")
	flag.Parse()

	cfg, logger, closer, err := app.Setup(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	vk, err := ratelimit.Dial(ctx, cfg.Quota.RedisAddr)
	if err != nil {
		logger.Error("quota_store_unavailable", "error", err)
		return app.ExitFailed
	}
	defer vk.Close()

	quota, err := ratelimit.New(vk, ratelimit.Config{
		MaxMisses: cfg.Quota.MaxMisses,
		Window:    cfg.Quota.Window,
		BanTTL:    cfg.Quota.BanTTL,
	}, logger)
	if err != nil {
		logger.Error("invalid_quota_config", "error", err)
		return app.ExitConfig
	}

	// Step 1: quota status, read-only
	fmt.Printf("\n1. Quota status for %q\n", cfg.Quota.Identity)
	status, err := quota.Status(ctx, cfg.Quota.Identity)
	if err != nil {
		logger.Error("quota_status_failed", "error", err)
		return app.ExitFailed
	}
	fmt.Printf("   Used: %d / %d per %s\n", status.Count, cfg.Quota.MaxMisses, cfg.Quota.Window)
	if status.BanTTL > 0 {
		fmt.Printf("   BANNED for another %s\n", status.BanTTL.Round(time.Second))
		return app.ExitOK
	}
	fmt.Println("   Not banned")

	client, err := app.NewRiotClient(cfg, logger)
	if err != nil {
		logger.Error("riot_client_failed", "error", err)
		return app.ExitFailed
	}
	gate := ratelimit.NewGate(quota, cfg.Quota.Identity)

	// Step 2: ladder preview, the seeds a fresh crawl would start from
	if *preview > 0 {
		fmt.Printf("\n2. Ladder preview: %s %s (top %d)\n", cfg.Ladder.Tier, cfg.Ladder.Queue, *preview)
		seeder := ladder.New(client, ladder.WithGate(gate), ladder.WithLogger(logger))
		seeds, err := seeder.SeedPlayers(ctx, cfg.Ladder.Tier, cfg.Ladder.Queue, *preview)
		if err != nil {
			logger.Error("ladder_preview_failed", "error", err)
			return app.ExitFailed
		}
		for i, puuid := range seeds {
			fmt.Printf("   %2d. %s\n", i+1, maskPUUID(puuid))
		}
	}

	// Step 3: optional single-player rank check
	if *riotID != "" {
		if err := checkPlayer(ctx, client, gate, *riotID, cfg.Ladder.Tier); err != nil {
			logger.Error("rank_check_failed", "riot_id", *riotID, "error", err)
			return app.ExitFailed
		}
	}

	fmt.Println("\nDone!")
	return app.ExitOK
}

func checkPlayer(ctx context.Context, client *riot.Client, gate *ratelimit.Gate, riotID, ladderTier string) error {
	gameName, tagLine, ok := strings.Cut(riotID, "#")
	if !ok {
		return fmt.Errorf("invalid Riot ID format, expected 'GameName#TagLine', got: %s", riotID)
	}

	fmt.Printf("\n3. Looking up account: %s#%s\n", gameName, tagLine)
	if err := gate.Admit(ctx); err != nil {
		return err
	}
	account, err := client.AccountByRiotID(ctx, gameName, tagLine)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	fmt.Printf("   PUUID: %s\n", maskPUUID(account.PUUID))

	if err := gate.Admit(ctx); err != nil {
		return err
	}
	entries, err := client.LeagueEntriesByPUUID(ctx, account.PUUID)
	if err != nil {
		return fmt.Errorf("get ranked entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("   No ranked entries found (unranked)")
		return nil
	}

	floor := riot.RankScore(ladderTier, "I", 0)
	for _, entry := range entries {
		queueName := entry.QueueType
		if entry.QueueType == "RANKED_SOLO_5x5" {
			queueName = "Solo/Duo"
		} else if entry.QueueType == "RANKED_FLEX_SR" {
			queueName = "Flex"
		}
		score := riot.RankScore(entry.Tier, entry.Rank, entry.LeaguePoints)
		verdict := "below seed tier"
		if score >= floor {
			verdict = "would seed"
		}
		fmt.Printf("   %s: %s %s (%d LP) - %dW %dL [%s]\n",
			queueName, entry.Tier, entry.Rank, entry.LeaguePoints, entry.Wins, entry.Losses, verdict)
	}
	return nil
}

func maskPUUID(puuid string) string {
	if len(puuid) <= 12 {
		return puuid
	}
	return puuid[:8] + "..." + puuid[len(puuid)-4:]
}

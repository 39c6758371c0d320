package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/lookout/internal/archive"
)

// lookout-report queries the ClickHouse alert archive and prints either an
// aggregated analytics report or a filtered alert listing.

func main() {
	var (
		days     = flag.Int("days", 7, "lookback window in days")
		list     = flag.Bool("list", false, "list alerts instead of printing analytics")
		session  = flag.String("session", "", "filter listing by session key")
		tool     = flag.String("tool", "", "filter listing by tool name")
		riskType = flag.String("type", "", "filter listing by risk type")
		page     = flag.Int("page", 1, "listing page")
		pageSize = flag.Int("page-size", 50, "listing page size")
		asJSON   = flag.Bool("json", false, "emit raw JSON")
	)
	flag.Parse()

	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "CLICKHOUSE_DSN is required")
		os.Exit(1)
	}

	logger := zap.NewNop()
	reader, err := archive.NewReader(dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = reader.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *list {
		start := time.Now().UTC().Add(-time.Duration(*days) * 24 * time.Hour)
		params := archive.ListAlertsParams{
			StartTime: &start,
			Page:      *page,
			PageSize:  *pageSize,
		}
		if *session != "" {
			params.SessionKey = session
		}
		if *tool != "" {
			params.ToolName = tool
		}
		if *riskType != "" {
			params.RiskType = riskType
		}

		alerts, total, err := reader.ListAlerts(ctx, params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list alerts: %v\n", err)
			os.Exit(1)
		}
		if *asJSON {
			printJSON(alerts)
			return
		}
		fmt.Printf("%d alerts (page %d, %d total)\n\n", len(alerts), *page, total)
		for _, a := range alerts {
			fmt.Printf("%s  %-8s  %-22s  %-12s  %s\n",
				a.Timestamp.Format(time.RFC3339), a.Severity, a.RiskType, a.ToolName, a.Matched)
		}
		return
	}

	result, err := reader.GetAnalytics(ctx, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analytics: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(result)
		return
	}

	fmt.Printf("Risk alerts, last %d days: %d (mean score %.2f)\n\n", *days, result.Total, result.MeanScore)
	fmt.Println("By severity:")
	for _, s := range result.BySeverity {
		fmt.Printf("  %-10s %d\n", s.Severity, s.Count)
	}
	fmt.Println("\nTop risk types:")
	for _, t := range result.TopRiskTypes {
		fmt.Printf("  %-24s %d\n", t.RiskType, t.Count)
	}
	fmt.Println("\nTop tools:")
	for _, t := range result.TopTools {
		fmt.Printf("  %-24s %d\n", t.ToolName, t.Count)
	}
	fmt.Println("\nTop sessions:")
	for _, s := range result.TopSessions {
		fmt.Printf("  %-24s %d\n", s.SessionKey, s.Count)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

// Command ledger replays one trader's trade history through the FIFO ledger
// and prints the resulting stats, open lots and consistency warnings.
//
// Events come from ClickHouse (-clickhouse-dsn), the gateway (-gateway-url)
// or a JSON file (-events-file), checked in that order.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"copytrade-engine/internal/config"
	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
	"copytrade-engine/internal/idhash"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/logging"
	chstore "copytrade-engine/internal/storage/clickhouse"
)

// Output is the JSON form of a replay.
type Output struct {
	Address   string              `json:"address"`
	From      time.Time           `json:"from"`
	To        time.Time           `json:"to"`
	Stats     *domain.TraderStats `json:"stats"`
	OpenLots  []openLots          `json:"open_lots"`
	Warnings  []string            `json:"warnings"`
	Persisted bool                `json:"persisted"`
}

type openLots struct {
	Pair string       `json:"pair"`
	Side domain.Side  `json:"side"`
	Lots []domain.Lot `json:"lots"`
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	address := flag.String("address", "", "Trader address to replay (required)")
	window := flag.Duration("window", ledger.DefaultStatsWindow, "Lookback window ending at -to")
	toTime := flag.String("to", "", "End of the window (RFC3339, default now)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	gatewayURL := flag.String("gateway-url", os.Getenv("GATEWAY_BASE_URL"), "Gateway base URL")
	eventsFile := flag.String("events-file", "", "JSON file with an array of trade events")
	persist := flag.Bool("persist", false, "Upsert the computed stats into ClickHouse")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("ledger")
	defer func() { _ = logger.Sync() }()

	if *address == "" {
		logger.Fatal("--address is required")
	}
	addr := idhash.NormalizeAddress(*address)

	to := time.Now().UTC()
	if *toTime != "" {
		to, err = time.Parse(time.RFC3339, *toTime)
		if err != nil {
			logger.Fatal("parse --to", zap.Error(err))
		}
	}
	from := to.Add(-*window)
	// One extra window of history seeds lots opened before -window.
	loadFrom := from.Add(-*window)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		events []domain.TradeEvent
		conn   *chstore.Conn
	)
	switch {
	case *clickhouseDSN != "":
		conn, err = chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal("connect to clickhouse", zap.Error(err))
		}
		defer conn.Close()

		stored, err := chstore.NewTradeEventStore(conn).GetByLeader(ctx, addr, loadFrom, to)
		if err != nil {
			logger.Fatal("load events", zap.Error(err))
		}
		events = ledger.Values(stored)
	case *gatewayURL != "":
		events, err = gateway.NewClient(*gatewayURL, gateway.WithAPIKey(os.Getenv("GATEWAY_API_KEY"))).
			StreamTradeEvents(ctx, addr, loadFrom)
		if err != nil {
			logger.Fatal("fetch events", zap.Error(err))
		}
	case *eventsFile != "":
		events, err = readEvents(*eventsFile, addr)
		if err != nil {
			logger.Fatal("read events", zap.Error(err))
		}
	default:
		logger.Fatal("one of --clickhouse-dsn, --gateway-url or --events-file is required")
	}
	logger.Info("loaded events", zap.String("address", addr), zap.Int("events", len(events)))

	stats, warnings, err := ledger.ComputeStats(addr, events, to, *window)
	if err != nil {
		logger.Fatal("replay", zap.Error(err))
	}
	res, err := ledger.Replay(addr, until(events, to))
	if err != nil {
		logger.Fatal("replay", zap.Error(err))
	}

	out := Output{
		Address:  addr,
		From:     from,
		To:       to,
		Stats:    stats,
		OpenLots: flattenLots(res.OpenLots),
		Warnings: make([]string, 0, len(warnings)),
	}
	for _, w := range warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}

	if *persist {
		if conn == nil {
			logger.Fatal("--persist requires --clickhouse-dsn")
		}
		if err := chstore.NewTraderStatsStore(conn).Upsert(ctx, stats); err != nil {
			logger.Fatal("store stats", zap.Error(err))
		}
		out.Persisted = true
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Fatal("encode output", zap.Error(err))
		}
		return
	}
	printText(out)
}

func readEvents(path, address string) ([]domain.TradeEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var all []domain.TradeEvent
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	events := all[:0]
	for _, e := range all {
		if idhash.NormalizeAddress(e.LeaderAddress) == address {
			events = append(events, e)
		}
	}
	return events, nil
}

func until(events []domain.TradeEvent, to time.Time) []domain.TradeEvent {
	out := make([]domain.TradeEvent, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func flattenLots(m map[ledger.LotKey][]domain.Lot) []openLots {
	out := make([]openLots, 0, len(m))
	for k, lots := range m {
		if len(lots) == 0 {
			continue
		}
		out = append(out, openLots{Pair: k.Pair, Side: k.Side, Lots: lots})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Side < out[j].Side
	})
	return out
}

func printText(out Output) {
	st := out.Stats
	fmt.Printf("Trader %s\n", out.Address)
	fmt.Printf("Window: %s .. %s\n\n", out.From.Format(time.RFC3339), out.To.Format(time.RFC3339))
	fmt.Printf("  Trades:        %d (%d closed)\n", st.TradeCount, st.ClosedTrades)
	fmt.Printf("  Realized PnL:  %s USD\n", st.RealizedPnlUsd.StringFixed(2))
	fmt.Printf("  Volume:        %s USD\n", st.VolumeUsd.StringFixed(2))
	fmt.Printf("  Median size:   %s USD\n", st.MedianTradeSizeUsd.StringFixed(2))
	fmt.Printf("  Win rate:      %.1f%%\n", st.WinRate*100)
	fmt.Printf("  Symbols:       %d\n", st.UniqueSymbols)
	if !st.LastTradeAt.IsZero() {
		fmt.Printf("  Last trade:    %s\n", st.LastTradeAt.Format(time.RFC3339))
	}

	if len(out.OpenLots) > 0 {
		fmt.Println("\nOpen lots:")
		for _, ol := range out.OpenLots {
			for _, lot := range ol.Lots {
				fmt.Printf("  %-12s %-5s size=%s entry=%s\n", ol.Pair, ol.Side, lot.Size, lot.EntryPrice)
			}
		}
	}
	if len(out.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(out.Warnings))
		for _, w := range out.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
	if out.Persisted {
		fmt.Println("\nStats stored.")
	}
}

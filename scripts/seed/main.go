package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/odyssey-erp/stocksync/internal/app"
	"github.com/odyssey-erp/stocksync/internal/inventory"
)

func main() {
	path := flag.String("file", "scripts/seed/inventory.yaml", "seed fixture")
	flag.Parse()

	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	f, err := os.Open(*path)
	if err != nil {
		logger.Error("open fixture", slog.Any("error", err))
		os.Exit(1)
	}
	inputs, err := loadFixture(f)
	_ = f.Close()
	if err != nil {
		logger.Error("load fixture", slog.Any("error", err))
		os.Exit(1)
	}

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	created, skipped := 0, 0
	for _, in := range inputs {
		if _, err := rt.Inventory.CreateRecord(ctx, in); err != nil {
			if errors.Is(err, inventory.ErrRecordExists) {
				skipped++
				continue
			}
			logger.Error("seed record", slog.String("sku", in.SKU), slog.Any("error", err))
			os.Exit(1)
		}
		created++
	}
	logger.Info("seed complete", slog.Int("created", created), slog.Int("skipped", skipped))
}

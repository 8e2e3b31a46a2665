package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/internal/importer"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/db"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "import"})

	_ = godotenv.Load()

	file := flag.String("file", "", "path to the file to import")
	format := flag.String("format", "", "file format: csv|json (inferred from extension when empty)")
	batchSize := flag.Int("batch-size", importer.DefaultBatchSize, "rows per write")
	generate := flag.Int("generate", 0, "generate N sample events instead of importing")
	out := flag.String("out", "events.json", "output path for -generate")
	flag.Parse()

	if *generate > 0 {
		if err := importer.WriteSampleFile(*out, *generate); err != nil {
			fmt.Fprintf(os.Stderr, "generate failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d sample events to %s\n", *generate, *out)
		return
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "missing -file (or use -generate)")
		os.Exit(1)
	}

	resolved := strings.ToLower(*format)
	if resolved == "" {
		switch {
		case strings.HasSuffix(strings.ToLower(*file), ".csv"):
			resolved = "csv"
		case strings.HasSuffix(strings.ToLower(*file), ".json"):
			resolved = "json"
		default:
			fmt.Fprintln(os.Stderr, "cannot infer format, pass -format csv|json")
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "import",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	imp, err := importer.New(events.NewRepository(dbClient.DB()), *batchSize, logg)
	if err != nil {
		logg.Error(ctx, "failed to create importer", err)
		os.Exit(1)
	}

	var result *importer.Result
	switch resolved {
	case "csv":
		result, err = imp.ImportCSV(ctx, *file)
	case "json":
		result, err = imp.ImportJSON(ctx, *file)
	default:
		fmt.Fprintln(os.Stderr, "unknown -format value:", resolved)
		os.Exit(1)
	}
	if err != nil {
		logg.Error(ctx, "import failed", err)
		os.Exit(1)
	}

	fmt.Printf("read %d, imported %d, skipped %d\n", result.Read, result.Imported, result.Skipped)
}

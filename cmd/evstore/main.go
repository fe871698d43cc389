// evstore inspects and exports camera run files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/pixelstream/evstore/internal/config"
	"github.com/pixelstream/evstore/internal/export"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/reader"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `evstore %s - camera run file tool

Usage:
  evstore inspect <file>           show tables, row counts and metadata
  evstore export  <file> <dir>     export tables to Parquet

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	cfgPath := flag.String("config", "", "config file path (optional)")
	compression := flag.String("compression", "zstd", "export compression (none, snappy, zstd, lz4, gzip)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, false)

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("Load config: %v", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	if *compression != "" {
		cfg.Export.Compression = *compression
	}

	switch args[0] {
	case "inspect":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := runInspect(args[1], cfg); err != nil {
			log.Fatalf("Inspect: %v", err)
		}
	case "export":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		if err := runExport(args[1], args[2], cfg); err != nil {
			log.Fatalf("Export: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func runInspect(path string, cfg *config.Config) error {
	ctx := context.Background()

	r, err := reader.Open(path, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("%s\n\n", path)

	if err := printTable(ctx, "data", r.Data); err != nil {
		return err
	}
	if r.Monitor != nil {
		fmt.Println()
		if err := printTable(ctx, "monitor", r.Monitor); err != nil {
			return err
		}
	}
	return nil
}

func printTable(ctx context.Context, name string, tr *reader.TableReader) error {
	n, err := tr.RowCount(ctx)
	if err != nil {
		return err
	}
	cols, err := tr.Columns(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("table %s: %d rows, %d columns\n", name, n, len(cols))
	fmt.Printf("  columns: %v\n", cols)

	meta := tr.Metadata()
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("  metadata:")
	for _, k := range keys {
		fmt.Printf("    %s: %v\n", k, meta[k])
	}
	return nil
}

func runExport(path, dir string, cfg *config.Config) error {
	ctx := context.Background()

	r, err := reader.Open(path, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	opts := export.Options{
		Compression: export.ParseCompressionType(cfg.Export.Compression),
	}

	start := time.Now()
	if err := export.Run(ctx, r, dir, opts); err != nil {
		return err
	}
	log.Printf("Exported %s to %s in %s", path, dir, time.Since(start).Round(time.Millisecond))
	return nil
}

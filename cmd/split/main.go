// Command split extracts the pages between a start and an end marker image
// from a PDF on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/markersplit/internal/config"
	logpkg "github.com/local/markersplit/internal/logger"
	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/splitter"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()
	defaults := cfg.Match.Options()

	fs := ff.NewFlagSet("split")
	var (
		docPath   = fs.StringLong("document", "", "Input PDF")
		startPath = fs.StringLong("start", "", "Start marker image")
		endPath   = fs.StringLong("end", "", "End marker image")
		outPath   = fs.StringLong("out", "split.pdf", "Output PDF")
		threshold = fs.Float64Long("threshold", defaults.Threshold, "Match threshold in [-1, 1]")
		profile   = fs.StringLong("profile", string(defaults.Profile), "Scale profile: 'fast' or 'thorough'")
		zoom      = fs.Float64Long("zoom", defaults.Zoom, "Rasterization zoom (1.2 fast, 2.0 high fidelity)")
		parallel  = fs.BoolLongDefault("parallel", defaults.ParallelScan(), "Classify pages on a worker pool")
		workers   = fs.IntLong("workers", defaults.Workers, "Worker count for -parallel")
		noFast    = fs.BoolLongDefault("no-fast-path", defaults.FastPathDisabled(), "Always rasterize, even digital documents")
		verbose   = fs.BoolLong("verbose", "Log every page decision")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("MARKERSPLIT")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *docPath == "" || *startPath == "" || *endPath == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: -document, -start and -end are required")
		os.Exit(2)
	}

	logOpts := logpkg.OptionsFrom(cfg)
	logOpts.Pretty = true
	logOpts.SendToAxiom = false
	if *verbose {
		logOpts.Level = "debug"
	}
	_ = logpkg.Init(logOpts)
	defer logpkg.Close()

	prof, err := match.ParseProfile(*profile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid profile")
	}
	opts := splitter.Options{
		Threshold:       *threshold,
		Profile:         prof,
		Zoom:            *zoom,
		Parallel:        splitter.Bool(*parallel),
		Workers:         *workers,
		DisableFastPath: splitter.Bool(*noFast),
	}.Merge(defaults)

	inputs := make([][]byte, 3)
	for i, p := range []string{*docPath, *startPath, *endPath} {
		if inputs[i], err = os.ReadFile(p); err != nil {
			log.Fatal().Err(err).Str("file", p).Msg("read input")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := splitter.New().Split(ctx, inputs[0], inputs[1], inputs[2], opts)
	if err != nil {
		log.Error().Err(err).Str("kind", string(splitter.KindOf(err))).Msg("split failed")
		stop()
		logpkg.Close()
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, res.PDF, 0o644); err != nil {
		log.Fatal().Err(err).Str("file", *outPath).Msg("write output")
	}
	log.Info().
		Int("start_page", res.Range.Start+1).
		Int("end_page", res.Range.End+1).
		Int("pages", res.Pages).
		Str("path", string(res.Path)).
		Str("out", *outPath).
		Msg("split written")
}

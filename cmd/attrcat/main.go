// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/poiesic/attrcat"
	"github.com/poiesic/attrcat/config"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/metrics"
	"github.com/poiesic/attrcat/query"
	"github.com/poiesic/attrcat/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the catalog configuration file (.toml, .yaml)",
		Required: true,
	}

	return &cli.App{
		Name:  "attrcat",
		Usage: "Consolidate attribute feeds into a searchable catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Consolidate, embed and upsert the configured feeds",
				Action: ingestCommand,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Report embedding progress on stderr",
					},
					&cli.StringFlag{
						Name:  "metrics-out",
						Usage: "Write run metrics in Prometheus text format to this file",
					},
				},
			},
			{
				Name:   "query",
				Usage:  "Find the attributes nearest to a text or a stored attribute",
				Action: queryCommand,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:    "text",
						Aliases: []string{"t"},
						Usage:   "Query text to embed",
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "Query with the stored embedding of this attribute key",
					},
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of results (defaults to query.k from the config)",
					},
					&cli.StringSliceFlag{
						Name:    "filter",
						Aliases: []string{"f"},
						Usage:   "Metadata filter clause: field=value, field!=value, field=a|b or field?",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the attributes nearest to it",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					configFlag,
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of attributes to answer from (defaults to query.k from the config)",
					},
					&cli.StringSliceFlag{
						Name:    "filter",
						Aliases: []string{"f"},
						Usage:   "Metadata filter clause: field=value, field!=value, field=a|b or field?",
					},
					&cli.BoolFlag{
						Name:  "sources",
						Usage: "List the attributes the answer was written from",
					},
				},
			},
			{
				Name:   "index",
				Usage:  "Ensure the configured index exists and describe it",
				Action: indexCommand,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}
}

func openCatalog(c *cli.Context, opts ...attrcat.CatalogOption) (*attrcat.Catalog, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cat, err := attrcat.NewCatalog(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return cat, nil
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	opts := []attrcat.CatalogOption{attrcat.WithMetrics(recorder)}
	if c.Bool("progress") {
		opts = append(opts, attrcat.WithProgress(c.App.ErrWriter))
	}
	cat, err := openCatalog(c, opts...)
	if err != nil {
		return err
	}
	defer cat.Close()

	cfg := cat.Config()
	fmt.Fprintf(c.App.ErrWriter, "Store: %s\n", storeName(cfg))
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.Embedding.Host)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintf(c.App.ErrWriter, "Feeds: %d\n", len(cfg.Feeds))
	fmt.Fprintln(c.App.ErrWriter)

	report, runErr := cat.Ingest(ctx)
	if err := report.Print(c.App.Writer); err != nil {
		return err
	}

	if path := c.String("metrics-out"); path != "" {
		if err := writeMetrics(path, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("ingest failed: %w", runErr)
	}
	if !report.OK() {
		return fmt.Errorf("ingest completed with %d embedding and %d upsert failures",
			report.Embedding.Failed, report.Upsert.Failed)
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	ctx := c.Context

	text, key := c.String("text"), c.String("key")
	if (text == "") == (key == "") {
		return errors.New("exactly one of --text or --key is required")
	}
	filter, err := storage.ParseFilter(c.StringSlice("filter"))
	if err != nil {
		return err
	}

	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	k := c.Int("k")
	if k == 0 {
		k = cat.Config().Query.K
	}

	engine, err := cat.NewQueryEngine()
	if err != nil {
		return err
	}

	var hits []query.Hit
	if text != "" {
		hits, err = engine.SearchText(ctx, text, k, filter)
	} else {
		doc, gerr := cat.Store().Get(ctx, core.NormalizeKey(key))
		if gerr != nil {
			return fmt.Errorf("failed to load %q: %w", key, gerr)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("attribute %q has no stored embedding", key)
		}
		hits, err = engine.Search(ctx, doc.Embedding, k, filter)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	printHits(c.App.Writer, hits)
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	filter, err := storage.ParseFilter(c.StringSlice("filter"))
	if err != nil {
		return err
	}

	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	k := c.Int("k")
	if k == 0 {
		k = cat.Config().Query.K
	}

	assistant, err := cat.NewAssistant()
	if err != nil {
		return err
	}
	answer, err := assistant.Ask(c.Context, question, k, filter)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Fprintln(c.App.Writer, answer.Text)
	if c.Bool("sources") {
		fmt.Fprintln(c.App.Writer)
		printHits(c.App.Writer, answer.Hits)
	}
	return nil
}

func indexCommand(c *cli.Context) error {
	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	outcome, desc, err := cat.EnsureIndex(c.Context)
	if err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Index %s: %s\n", desc.Name, outcome)
	fmt.Fprintf(c.App.Writer, "  dimension: %d\n", desc.Dimension)
	fmt.Fprintf(c.App.Writer, "  metric: %s\n", desc.Metric)
	fmt.Fprintf(c.App.Writer, "  m: %d ef_construction: %d ef_search: %d\n", desc.M, desc.EFConstruction, desc.EFSearch)

	count, err := cat.Store().Count(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  documents: %d\n", count)
	return nil
}

func printHits(w io.Writer, hits []query.Hit) {
	fmt.Fprintf(w, "Found %d hits\n", len(hits))
	for i, hit := range hits {
		name := hit.Fields[core.MetadataDisplayName]
		if name == "" {
			name = hit.Key
		}
		fmt.Fprintf(w, "%d: %s (%s)[%0.3f]\n", i, name, hit.Key, hit.Score)

		fields := make([]string, 0, len(hit.Fields))
		for f := range hit.Fields {
			if f != core.MetadataDisplayName {
				fields = append(fields, f)
			}
		}
		slices.Sort(fields)
		for _, f := range fields {
			fmt.Fprintf(w, "    %s: %s\n", f, hit.Fields[f])
		}
	}
}

func writeMetrics(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func storeName(cfg *config.Config) string {
	if cfg.Store.InMemory {
		return "(in memory)"
	}
	return cfg.Store.Path
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

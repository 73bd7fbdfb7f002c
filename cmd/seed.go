package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/api"
	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

const (
	defaultTemplate = "Template:Infobox video game"
	seriesTemplate  = "Template:Infobox video game series"
)

// highValueCategories are category roots that reach most game articles.
//
//nolint:gochecknoglobals // fixed seed list
var highValueCategories = []string{
	"Category:Video games by platform",
	"Category:Video games by genre",
}

type seedFunc func(ctx context.Context, seeder api.Seeder) (crawler.CrawlTask, error)

func categorySeed(category string) seedFunc {
	return func(ctx context.Context, seeder api.Seeder) (crawler.CrawlTask, error) {
		return seeder.StartCategoryTraversal(ctx, category)
	}
}

func templateSeed(template string) seedFunc {
	return func(ctx context.Context, seeder api.Seeder) (crawler.CrawlTask, error) {
		return seeder.StartTemplateTransclusion(ctx, template)
	}
}

// seedFlags are shared by every seeding command.
type seedFlags struct {
	seedOnly bool
}

func (f *seedFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.seedOnly, "seed-only", false,
		"submit the seed tasks and exit without draining the queue")
}

// runSeeds submits seeds, then drains the queue unless seedOnly is set.
func runSeeds(cmd *cobra.Command, flags seedFlags, seeds []seedFunc) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	logger := zap.L()
	for _, seed := range seeds {
		task, err := seed(cmd.Context(), rt.app.Seeder())
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seed task submitted", zap.String("task_key", task.DedupKey()))
	}
	if flags.seedOnly {
		return nil
	}
	return rt.app.Drain(cmd.Context())
}

func newScrapeCmd() *cobra.Command {
	var (
		flags     seedFlags
		category  string
		highValue bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Traverses a category tree",
		Long: `Seeds a traversal of the given category (default crawl.root_category)
and its subcategories. --seed-high-value also seeds the platform and genre
category roots.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if category == "" {
				category = rt.cfg.Crawl.RootCategory
			}
			seeds := []seedFunc{categorySeed(category)}
			if highValue {
				for _, c := range highValueCategories {
					if c != category {
						seeds = append(seeds, categorySeed(c))
					}
				}
			}
			return runSeeds(cmd, flags, seeds)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category to traverse (default crawl.root_category)")
	cmd.Flags().BoolVar(&highValue, "seed-high-value", false, "also seed the high-value category roots")
	flags.register(cmd)
	return cmd
}

func newDiscoverByTemplateCmd() *cobra.Command {
	var (
		flags    seedFlags
		template string
		series   bool
	)
	cmd := &cobra.Command{
		Use:   "discover-by-template",
		Short: "Processes every page transcluding an infobox template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeds := []seedFunc{templateSeed(template)}
			if series && template != seriesTemplate {
				seeds = append(seeds, templateSeed(seriesTemplate))
			}
			return runSeeds(cmd, flags, seeds)
		},
	}
	cmd.Flags().StringVar(&template, "template", defaultTemplate, "template whose transclusions are processed")
	cmd.Flags().BoolVar(&series, "series", false, "also process pages transcluding the series infobox")
	flags.register(cmd)
	return cmd
}

func newScanAllCmd() *cobra.Command {
	var flags seedFlags
	cmd := &cobra.Command{
		Use:   "scan-all",
		Short: "Seeds every template and category entry point at once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			seeds := []seedFunc{templateSeed(defaultTemplate), templateSeed(seriesTemplate)}
			seen := make(map[string]struct{})
			for _, c := range append(append([]string{}, highValueCategories...), rt.cfg.Crawl.RootCategory) {
				if _, dup := seen[c]; dup || c == "" {
					continue
				}
				seen[c] = struct{}{}
				seeds = append(seeds, categorySeed(c))
			}
			return runSeeds(cmd, flags, seeds)
		},
	}
	flags.register(cmd)
	return cmd
}

func newSyncGamesCmd() *cobra.Command {
	var (
		flags        seedFlags
		limit        int
		continuation string
	)
	cmd := &cobra.Command{
		Use:   "sync-games",
		Short: "Enumerates all main-namespace pages in batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if limit == 0 {
				limit = rt.cfg.Crawl.Limit
			}
			return runSeeds(cmd, flags, []seedFunc{
				func(ctx context.Context, seeder api.Seeder) (crawler.CrawlTask, error) {
					return seeder.StartAllPagesEnumeration(ctx, limit, continuation)
				},
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "pages per batch (default crawl.limit)")
	cmd.Flags().StringVar(&continuation, "apcontinue", "", "continuation token to resume from")
	flags.register(cmd)
	return cmd
}

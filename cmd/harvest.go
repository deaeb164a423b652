// File: cmd/harvest.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/crawler"
	"github.com/kaidos-lab/notesift/internal/credstore"
	"github.com/kaidos-lab/notesift/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var harvestFlags struct {
	keyword   string
	startPage int
	sort      string
	timeRange int
	noteType  int
	scope     int
	distance  int
	maxItems  int
	maxPages  int
	output    string
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Stream search results for a keyword as NDJSON.",
	Long: `Harvest drives an authenticated browser session through the search
results for a keyword, capturing the result API responses page by page and
streaming each deduplicated record as one JSON line.`,
	RunE: runHarvest,
}

func init() {
	f := harvestCmd.Flags()
	f.StringVarP(&harvestFlags.keyword, "keyword", "k", "", "search keyword (required)")
	f.IntVar(&harvestFlags.startPage, "start-page", 1, "result page to start from")
	f.StringVar(&harvestFlags.sort, "sort", "general", "sort order: general, popularity_desc, time_desc, comment_desc")
	f.IntVar(&harvestFlags.timeRange, "time-range", 0, "publish time filter: 0 all, 1 day, 2 week, 4 half-year")
	f.IntVar(&harvestFlags.noteType, "note-type", 0, "note type filter: 0 all, 1 video, 2 image")
	f.IntVar(&harvestFlags.scope, "scope", 0, "search scope: 0 all, 1 viewed, 2 not viewed, 3 followed")
	f.IntVar(&harvestFlags.distance, "distance", 0, "location distance: 0 all, 1 same city, 2 nearby")
	f.IntVar(&harvestFlags.maxItems, "max-items", 0, "stop after this many items (0 = until exhausted)")
	f.IntVar(&harvestFlags.maxPages, "max-pages", 0, "stop after this many result pages (0 = until exhausted)")
	f.StringVarP(&harvestFlags.output, "output", "o", "", "output file (default stdout)")
	_ = harvestCmd.MarkFlagRequired("keyword")
	rootCmd.AddCommand(harvestCmd)
}

// harvestLine is the NDJSON envelope around each raw record.
type harvestLine struct {
	ID      string              `json:"id"`
	Page    int                 `json:"page"`
	IsVideo bool                `json:"is_video"`
	Data    jsoniter.RawMessage `json:"data"`
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	logger := observability.GetLogger()

	query := crawler.SearchQuery{
		Keyword:          harvestFlags.keyword,
		StartPage:        harvestFlags.startPage,
		Sort:             crawler.SortType(harvestFlags.sort),
		TimeRange:        harvestFlags.timeRange,
		NoteType:         harvestFlags.noteType,
		SearchScope:      harvestFlags.scope,
		LocationDistance: harvestFlags.distance,
	}
	if err := query.Validate(); err != nil {
		return err
	}

	out := os.Stdout
	if harvestFlags.output != "" {
		file, err := os.Create(harvestFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, closeCrawler, err := buildCrawler(ctx, logger)
	if err != nil {
		return err
	}
	defer closeCrawler()

	stream := c.Harvest(query)
	writer := bufio.NewWriter(out)
	enc := json.NewEncoder(writer)

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var g errgroup.Group

	// Signal watcher: a stop is a flag write from this goroutine, never a
	// browser call.
	g.Go(func() error {
		<-gctx.Done()
		c.Stop()
		return nil
	})

	lastPage := query.StartPage
	if lastPage < 1 {
		lastPage = 1
	}
	if harvestFlags.maxPages > 0 {
		lastPage += harvestFlags.maxPages - 1
	}

	var count int
	g.Go(func() error {
		defer cancel()
		defer writer.Flush()
		for {
			item, err := stream.Next(gctx)
			if err != nil {
				return err
			}
			if harvestFlags.maxPages > 0 && item.PageNumber > lastPage {
				return crawler.ErrStopped
			}
			line := harvestLine{
				ID:      item.ID,
				Page:    item.PageNumber,
				IsVideo: item.IsVideo,
				Data:    jsoniter.RawMessage(item.RawPayload),
			}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			count++
			if harvestFlags.maxItems > 0 && count >= harvestFlags.maxItems {
				return crawler.ErrStopped
			}
		}
	})

	err = g.Wait()
	switch {
	case errors.Is(err, crawler.ErrEndOfResults):
		logger.Info("Harvest complete, results exhausted.", zap.Int("items", count))
		return nil
	case errors.Is(err, crawler.ErrStopped), errors.Is(err, context.Canceled):
		logger.Info("Harvest stopped.", zap.Int("items", count))
		return nil
	default:
		return err
	}
}

// buildCrawler wires the browser surface, credential store, and crawler for
// one command invocation.
func buildCrawler(ctx context.Context, logger *zap.Logger) (*crawler.Crawler, func(), error) {
	surface, err := browser.NewChrome(ctx, appCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	store := credstore.New(
		appCfg.Crawler.CookiePath,
		appCfg.Crawler.GlobalCookiePath,
		appCfg.Crawler.BackupCookiePath,
		logger,
	)

	c := crawler.New(appCfg, surface, store, logger)
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Warn("Crawler close failed.", zap.Error(err))
		}
	}
	return c, closeFn, nil
}

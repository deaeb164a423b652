// File: internal/crawler/harvest_test.go
package crawler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaidos-lab/notesift/internal/browser"
	"github.com/kaidos-lab/notesift/internal/config"
	"github.com/kaidos-lab/notesift/internal/credstore"
)

const searchPacketURL = "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes?keyword=python"

func newTestCrawler(t *testing.T, surface *fakeSurface, mutate func(*config.Config)) *Crawler {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	dir := t.TempDir()
	store := credstore.New(filepath.Join(dir, "cookies.json"), "", "", testLogger())

	// Authenticated session by default; individual tests break it on purpose.
	surface.setPresent(browser.CSS("#user-avatar"))

	return New(cfg, surface, store, testLogger())
}

func mixedFeedBody() string {
	return `{"data":{"items":[
        {"id":"v1","model_type":"note","note_card":{"type":"video"}},
        {"id":"i1","model_type":"note","note_card":{"type":"normal"}},
        {"id":"v2","model_type":"note","note_card":{"type":"video"}},
        {"id":"i2","model_type":"note","note_card":{"type":"normal"}}
    ]}}`
}

func TestHarvestImageOnlyFirstPage(t *testing.T) {
	surface := newFakeSurface()
	// Page 1 delivers a mixed feed; afterwards the scroll extent stalls so
	// pagination ends cleanly.
	surface.queuePacket(searchPacketURL, mixedFeedBody())
	surface.scrollHeights = []int{1000, 1000}

	c := newTestCrawler(t, surface, nil)
	stream := c.Harvest(SearchQuery{Keyword: "python", StartPage: 1, NoteType: NoteImage})
	ctx := context.Background()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	second, err := stream.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, "i1", first.ID)
	assert.Equal(t, "i2", second.ID)
	assert.Equal(t, 1, first.PageNumber)
	assert.Equal(t, 1, second.PageNumber)
	assert.False(t, first.IsVideo)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfResults)

	// The stream stays terminated on further calls.
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfResults)
}

func TestHarvestDeduplicatesAcrossPackets(t *testing.T) {
	surface := newFakeSurface()
	surface.queuePacket(searchPacketURL, mixedFeedBody())
	surface.queuePacket(searchPacketURL, mixedFeedBody())
	surface.scrollHeights = []int{1000, 1000}

	c := newTestCrawler(t, surface, nil)
	stream := c.Harvest(SearchQuery{Keyword: "python", NoteType: NoteImage})
	ctx := context.Background()

	var ids []string
	for {
		item, err := stream.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrEndOfResults)
			break
		}
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"i1", "i2"}, ids)
}

func TestHarvestPageNumbersMonotonic(t *testing.T) {
	surface := newFakeSurface()
	surface.queuePacket(searchPacketURL, `{"data":{"items":[{"id":"a","model_type":"note","note_card":{"type":"normal"}}]}}`)
	// Page 1 -> 2 grows; afterwards feed page 2 then stall.
	surface.scrollHeights = []int{1000, 3000}

	c := newTestCrawler(t, surface, nil)
	stream := c.Harvest(SearchQuery{Keyword: "python"})
	ctx := context.Background()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.PageNumber)

	surface.queuePacket(searchPacketURL, `{"data":{"items":[{"id":"b","model_type":"note","note_card":{"type":"normal"}}]}}`)
	surface.mu.Lock()
	surface.scrollHeights = []int{3000, 3000}
	surface.mu.Unlock()

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.PageNumber)
	assert.GreaterOrEqual(t, second.PageNumber, first.PageNumber)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfResults)
}

func TestHarvestSecurityRestrictionSurfacedNotRetried(t *testing.T) {
	surface := newFakeSurface()
	surface.queuePacket(searchPacketURL, mixedFeedBody())

	c := newTestCrawler(t, surface, nil)
	stream := c.Harvest(SearchQuery{Keyword: "python", NoteType: NoteImage})
	ctx := context.Background()

	// Items captured before the block must still be delivered.
	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "i1", first.ID)

	// The platform blocks the session mid-harvest.
	surface.mu.Lock()
	surface.html = "访问频次异常 错误代码 300013"
	surface.mu.Unlock()

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "i2", second.ID)

	_, err = stream.Next(ctx)
	var restriction *SecurityRestrictionError
	require.ErrorAs(t, err, &restriction)
	assert.Equal(t, "300013", restriction.Code)

	// Terminal: repeated calls return the same signal, never a retry or an
	// empty success.
	_, err = stream.Next(ctx)
	require.ErrorAs(t, err, &restriction)

	surface.mu.Lock()
	navs := len(surface.navigations)
	surface.mu.Unlock()
	assert.Equal(t, 1, navs, "the blocked run must not re-navigate")
}

func TestHarvestStopEndsStream(t *testing.T) {
	surface := newFakeSurface()
	surface.queuePacket(searchPacketURL, mixedFeedBody())
	surface.scrollHeights = []int{1000, 9000, 9000, 20000}

	c := newTestCrawler(t, surface, nil)
	stream := c.Harvest(SearchQuery{Keyword: "python", NoteType: NoteImage})
	ctx := context.Background()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Stop from a non-owning goroutine: flag write only.
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Stop()
	}()
	<-done

	// Buffered items still drain, then the stream reports the stop.
	for {
		_, err = stream.Next(ctx)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrStopped)
}

func TestHarvestLoginRequiredAborts(t *testing.T) {
	surface := newFakeSurface()
	c := newTestCrawler(t, surface, func(cfg *config.Config) {
		cfg.Browser.Headless = true
	})

	// Identity vanishes and a visible login wall appears before the run.
	surface.setAbsent(browser.CSS("#user-avatar"))
	surface.setPresent(browser.CSS(".login-container"))

	stream := c.Harvest(SearchQuery{Keyword: "python"})
	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrLoginRequired)
}

func TestHarvestInvalidQuery(t *testing.T) {
	c := newTestCrawler(t, newFakeSurface(), nil)
	stream := c.Harvest(SearchQuery{})
	_, err := stream.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword")
}

func TestHarvestEndsAfterNoDataPages(t *testing.T) {
	surface := newFakeSurface()
	// Pages keep growing but never deliver result packets; the no-data
	// streak must end the harvest instead of spinning forever.
	surface.scrollHeights = []int{1, 1000, 2000, 3000, 4000, 5000, 6000, 7000}

	c := newTestCrawler(t, surface, func(cfg *config.Config) {
		cfg.Crawler.MaxNoDataPages = 2
		cfg.Crawler.DrainTimeout = 30 * time.Millisecond
	})
	stream := c.Harvest(SearchQuery{Keyword: "python"})

	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfResults)
}

func TestSearchSubscribesListener(t *testing.T) {
	surface := newFakeSurface()
	surface.scrollHeights = []int{1000, 1000}
	c := newTestCrawler(t, surface, nil)

	require.NoError(t, c.Search(context.Background(), SearchQuery{Keyword: "python"}))
	surface.mu.Lock()
	defer surface.mu.Unlock()
	assert.Equal(t, "xiaohongshu.com", surface.subscribed)
	require.Len(t, surface.navigations, 1)
	assert.Contains(t, surface.navigations[0], "keyword=python")
	assert.Contains(t, surface.navigations[0], "search_result")
}

func TestSearchURLEncodesOptions(t *testing.T) {
	surface := newFakeSurface()
	c := newTestCrawler(t, surface, nil)

	url := c.buildSearchURL(SearchQuery{
		Keyword:   "奶茶 推荐",
		Sort:      SortNewest,
		TimeRange: TimeOneWeek,
		NoteType:  NoteVideo,
	})
	assert.Contains(t, url, "sort=time_desc")
	assert.Contains(t, url, "publishTimeType=2")
	assert.Contains(t, url, "noteType=1")
	assert.NotContains(t, url, " ", "keyword must be URL-encoded")
}

func TestSearchQueryValidate(t *testing.T) {
	assert.NoError(t, SearchQuery{Keyword: "x"}.Validate())
	assert.Error(t, SearchQuery{}.Validate())
	assert.Error(t, SearchQuery{Keyword: "x", Sort: "weird"}.Validate())
	assert.Error(t, SearchQuery{Keyword: "x", TimeRange: 3}.Validate())
	assert.Error(t, SearchQuery{Keyword: "x", NoteType: 9}.Validate())
	assert.Error(t, SearchQuery{Keyword: "x", SearchScope: 7}.Validate())
	assert.Error(t, SearchQuery{Keyword: "x", LocationDistance: -1}.Validate())
}

func TestCrawlerCloseReleasesSurface(t *testing.T) {
	surface := newFakeSurface()
	c := newTestCrawler(t, surface, nil)

	require.NoError(t, c.Close(context.Background()))
	surface.mu.Lock()
	defer surface.mu.Unlock()
	assert.True(t, surface.closed)
}

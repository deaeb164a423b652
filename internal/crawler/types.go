// File: internal/crawler/types.go
package crawler

import "fmt"

// SortType orders search results.
type SortType string

const (
	SortGeneral     SortType = "general"
	SortPopularity  SortType = "popularity_desc"
	SortNewest      SortType = "time_desc"
	SortMostComment SortType = "comment_desc"
)

// Time range values accepted by the search endpoint. 3 (one month) was
// removed from the platform UI and is rejected.
const (
	TimeAll     = 0
	TimeOneDay  = 1
	TimeOneWeek = 2
	TimeSixMo   = 4
)

// Note type values: 0 all, 1 video only, 2 image only.
const (
	NoteAll   = 0
	NoteVideo = 1
	NoteImage = 2
)

// SearchQuery describes one harvest run. Immutable once the run starts.
type SearchQuery struct {
	Keyword          string
	StartPage        int
	Sort             SortType
	TimeRange        int
	NoteType         int
	SearchScope      int // 0 all, 1 viewed, 2 not viewed, 3 followed
	LocationDistance int // 0 all, 1 same city, 2 nearby
}

// Validate rejects queries the platform cannot express.
func (q SearchQuery) Validate() error {
	if q.Keyword == "" {
		return fmt.Errorf("search query requires a keyword")
	}
	if q.StartPage < 0 {
		return fmt.Errorf("start page must be non-negative, got %d", q.StartPage)
	}
	switch q.Sort {
	case "", SortGeneral, SortPopularity, SortNewest, SortMostComment:
	default:
		return fmt.Errorf("unknown sort type %q", q.Sort)
	}
	switch q.TimeRange {
	case TimeAll, TimeOneDay, TimeOneWeek, TimeSixMo:
	default:
		return fmt.Errorf("unsupported time range %d", q.TimeRange)
	}
	if q.NoteType < NoteAll || q.NoteType > NoteImage {
		return fmt.Errorf("unsupported note type %d", q.NoteType)
	}
	if q.SearchScope < 0 || q.SearchScope > 3 {
		return fmt.Errorf("unsupported search scope %d", q.SearchScope)
	}
	if q.LocationDistance < 0 || q.LocationDistance > 2 {
		return fmt.Errorf("unsupported location distance %d", q.LocationDistance)
	}
	return nil
}

// ResultItem is one decoded, type-filtered search record. Never mutated
// after creation.
type ResultItem struct {
	// ID is the platform note ID.
	ID string
	// ModelType is the record's declared model, "note" for content records.
	ModelType string
	// IsVideo reflects the note card's declared media kind.
	IsVideo bool
	// PageNumber is the result page the item was captured on.
	PageNumber int
	// RawPayload is the undecoded record object, preserved for downstream
	// consumers that want fields the core does not model.
	RawPayload []byte
}

// PageCursor tracks pagination progress. Owned exclusively by the Paginator;
// advanced only through Advance, reset only at harvest start.
type PageCursor struct {
	page         int
	noDataStreak int
}

// Page returns the current page number.
func (c *PageCursor) Page() int { return c.page }

// NoDataStreak returns how many consecutive pages yielded no records.
func (c *PageCursor) NoDataStreak() int { return c.noDataStreak }

func (c *PageCursor) reset(page int) {
	c.page = page
	c.noDataStreak = 0
}

func (c *PageCursor) advance() { c.page++ }

func (c *PageCursor) recordData(got bool) {
	if got {
		c.noDataStreak = 0
	} else {
		c.noDataStreak++
	}
}

// Reply is one nested reply under a comment.
type Reply struct {
	User     string `json:"user"`
	Content  string `json:"content"`
	Date     string `json:"date,omitempty"`
	Likes    string `json:"likes,omitempty"`
	Location string `json:"location,omitempty"`
}

// Comment is one top-level comment on a note detail page.
type Comment struct {
	ID       string  `json:"id,omitempty"`
	User     string  `json:"user"`
	UserID   string  `json:"user_id,omitempty"`
	Content  string  `json:"content"`
	Date     string  `json:"date,omitempty"`
	Location string  `json:"ip_location,omitempty"`
	Likes    string  `json:"like_count,omitempty"`
	Replies  []Reply `json:"replies,omitempty"`
}

// DetailRecord is the scraped content of one note detail page.
type DetailRecord struct {
	NoteID      string    `json:"note_id"`
	Title       string    `json:"title"`
	Description string    `json:"desc"`
	Images      []string  `json:"images"`
	Comments    []Comment `json:"comments"`
	PublishedAt string    `json:"published_at,omitempty"`
	Author      string    `json:"nickname,omitempty"`
	AuthorID    string    `json:"author_id,omitempty"`
	Likes       string    `json:"likes,omitempty"`
	Collects    string    `json:"collected,omitempty"`
	ShareURL    string    `json:"share_url"`
}

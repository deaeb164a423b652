// File: internal/crawler/listener.go
package crawler

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kaidos-lab/notesift/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result endpoint matching. The primary pattern is the canonical search
// endpoint; the proto proxy is an alternative delivery path observed in the
// wild; the tolerant match catches endpoint renames while excluding the
// suggestion feeds.
const (
	searchEndpointMarker = "search/notes"
	protoProxyMarker     = "proto/json-to-proto-json-to-proto/proxy"
)

var searchExcludeMarkers = []string{
	"search/recommend",
	"search/hot",
	"search/trending",
}

// Listener drains captured network packets, matches them against the result
// endpoint, and decodes their payloads into records.
type Listener struct {
	surface browser.Surface
	logger  *zap.Logger
}

// NewListener builds a response listener over the surface's capture queue.
func NewListener(surface browser.Surface, logger *zap.Logger) *Listener {
	return &Listener{surface: surface, logger: logger.Named("listener")}
}

// Subscribe starts network capture for URLs containing pattern.
func (l *Listener) Subscribe(pattern string) error {
	return l.surface.SubscribeResponses(pattern)
}

// Drain waits up to timeout for the next captured packet. A timeout is
// (nil, nil).
func (l *Listener) Drain(ctx context.Context, timeout time.Duration) (*browser.RawPacket, error) {
	return l.surface.PollResponse(ctx, timeout)
}

// MatchesResultEndpoint reports whether the packet URL carries search
// results.
func MatchesResultEndpoint(url string) bool {
	if strings.Contains(url, searchEndpointMarker) || strings.Contains(url, protoProxyMarker) {
		return true
	}
	// Tolerant secondary match for endpoint renames.
	if strings.Contains(url, "api/sns/web") && strings.Contains(url, "search") {
		for _, ex := range searchExcludeMarkers {
			if strings.Contains(url, ex) {
				return false
			}
		}
		return true
	}
	return false
}

// rawRecord is the partial decode of one result record: just enough typed
// fields to filter, with the full object preserved.
type rawRecord struct {
	id        string
	modelType string
	noteType  string // note_card.type: "video", "normal", or "" when absent
	payload   []byte
}

type recordEnvelope struct {
	ID        string `json:"id"`
	ModelType string `json:"model_type"`
	NoteCard  *struct {
		Type string `json:"type"`
	} `json:"note_card"`
}

// Extract decodes a packet body into records. The payload shape is
// normalized across the three observed wrappings: {data:{items:[...]}},
// {data:[...]}, and a bare top-level list. A packet that matches the
// endpoint but decodes to nothing returns an empty slice, not an error.
func (l *Listener) Extract(pkt *browser.RawPacket) []rawRecord {
	if pkt == nil || len(pkt.Body) == 0 {
		return nil
	}

	items := normalizeItems(pkt.Body)
	if len(items) == 0 {
		l.logger.Debug("No items in matched packet.", zap.String("url", pkt.URL))
		return nil
	}

	records := make([]rawRecord, 0, len(items))
	for _, item := range items {
		var env recordEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			l.logger.Debug("Skipping undecodable record.", zap.Error(err))
			continue
		}
		rec := rawRecord{
			id:        env.ID,
			modelType: env.ModelType,
			payload:   item,
		}
		if env.NoteCard != nil {
			rec.noteType = env.NoteCard.Type
		}
		records = append(records, rec)
	}
	return records
}

// normalizeItems unwraps the record list from any of the known payload
// shapes.
func normalizeItems(body []byte) []jsoniter.RawMessage {
	// Bare list at the root.
	var bare []jsoniter.RawMessage
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare
	}

	var envelope struct {
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 {
		return nil
	}

	// data is a list directly.
	var list []jsoniter.RawMessage
	if err := json.Unmarshal(envelope.Data, &list); err == nil {
		return list
	}

	// data is an object wrapping items.
	var wrapped struct {
		Items []jsoniter.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(envelope.Data, &wrapped); err == nil {
		return wrapped.Items
	}
	return nil
}

// FilterRecords applies the model and note-type constraints and tags
// survivors with the page number. Records with a model type other than
// "note" are dropped; unmarked records pass through to tolerate schema
// drift. The note-type filter re-applies the requested constraint
// client-side since server-side filtering is unreliable.
func FilterRecords(records []rawRecord, noteType int, page int) []*ResultItem {
	items := make([]*ResultItem, 0, len(records))
	for _, rec := range records {
		if rec.modelType != "" && rec.modelType != "note" {
			continue
		}
		isVideo := rec.noteType == "video"
		switch noteType {
		case NoteImage:
			if isVideo {
				continue
			}
		case NoteVideo:
			// Only drop records explicitly marked non-video; unmarked ones
			// pass.
			if rec.noteType != "" && !isVideo {
				continue
			}
		}
		items = append(items, &ResultItem{
			ID:         rec.id,
			ModelType:  rec.modelType,
			IsVideo:    isVideo,
			PageNumber: page,
			RawPayload: rec.payload,
		})
	}
	return items
}

// Package httpapi implements the node's HTTP surface: the PCP-over-HTTP
// channel-pull endpoint's non-PCP sibling responses (the Root server's
// aggregated index) and the plain-HTTP index formats, per spec.md §6
// "HTTP surface at the channel port" and SPEC_FULL.md §10's supplemented
// Root index feature.
//
// Grounded in original_source src/http/api/channels.rs for the field set
// mirrored into /index.txt and /api/index.json, and the teacher's
// net/http-on-ServeMux style (no router library fits a three-route
// surface better — justified in DESIGN.md).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
)

// Handler serves the Root server's aggregated channel index. It is only
// meaningful when the node is running in root_mode (spec.md §6
// "root_mode"); ServeHTTP still answers the plain-HTTP routes either way,
// since a relay node with no listings simply reports an empty index.
type Handler struct {
	Repository *channel.Repository
	RootMode   bool
}

// New constructs a Handler over repo.
func New(repo *channel.Repository, rootMode bool) *Handler {
	return &Handler{Repository: repo, RootMode: rootMode}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/index.txt":
		h.serveIndexText(w, r)
	case r.URL.Path == "/api/index.json":
		h.serveIndexJSON(w, r)
	default:
		http.NotFound(w, r)
	}
}

// indexRecord is the common projection spec.md §6 prescribes for both
// index formats, derived from a channel.ChannelInfoSnapshot.
type indexRecord struct {
	Name        string
	ChannelID   gnuid.GnuId
	TrackerAddr string
	ContactURL  string
	Genre       string
	Desc        string
	Listeners   int
	Relays      int
	Bitrate     int32
	StreamExt   string
	Comment     string
	CreatedAt   time.Time
	Track       trackJSON
}

type trackJSON struct {
	Title   string `json:"title"`
	Creator string `json:"creator"`
	URL     string `json:"url"`
	Album   string `json:"album"`
	Genre   string `json:"genre"`
}

func (h *Handler) records() []indexRecord {
	snapshots := h.Repository.Snapshots()
	out := make([]indexRecord, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, indexRecord{
			Name:       s.Info.Name,
			ChannelID:  s.ID,
			ContactURL: s.Info.URL,
			Genre:      s.Info.Genre,
			Desc:       s.Info.Desc,
			Listeners:  s.Listeners,
			Relays:     s.Relays,
			Bitrate:    s.Info.Bitrate,
			StreamExt:  s.Info.StreamExt,
			Comment:    s.Info.Comment,
			CreatedAt:  s.CreatedAt,
			Track: trackJSON{
				Title:   s.Track.Title,
				Creator: s.Track.Creator,
				URL:     s.Track.URL,
				Album:   s.Track.Album,
				Genre:   s.Track.Genre,
			},
		})
	}
	return out
}

// serveIndexText renders the legacy index.txt format: one record per
// line, 20 "<>"-delimited fields, per spec.md §6's exact field order.
func (h *Handler) serveIndexText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	for _, rec := range h.records() {
		uptime := formatUptime(time.Since(rec.CreatedAt))
		fields := []string{
			rec.Name,
			rec.ChannelID.String(),
			rec.TrackerAddr,
			rec.ContactURL,
			rec.Genre,
			rec.Desc,
			strconv.Itoa(rec.Listeners),
			strconv.Itoa(rec.Relays),
			strconv.Itoa(int(rec.Bitrate)),
			rec.StreamExt,
			"", "", "", "",
			escapeField(rec.Name),
			uptime,
			"click",
			rec.Comment,
			"0",
		}
		b.WriteString(strings.Join(fields, "<>"))
		b.WriteString("\r\n")
	}
	_, _ = w.Write([]byte(b.String()))
}

// serveIndexJSON renders /api/index.json: the same field set plus
// created_at (RFC3339) and a track sub-object, per spec.md §6.
func (h *Handler) serveIndexJSON(w http.ResponseWriter, r *http.Request) {
	type jsonRecord struct {
		Name        string    `json:"name"`
		ChannelID   string    `json:"channel_id"`
		TrackerAddr string    `json:"tracker_addr"`
		ContactURL  string    `json:"contact_url"`
		Genre       string    `json:"genre"`
		Desc        string    `json:"desc"`
		Listeners   int       `json:"listeners"`
		Relays      int       `json:"relays"`
		Bitrate     int32     `json:"bitrate"`
		StreamExt   string    `json:"stream_ext"`
		Comment     string    `json:"comment"`
		CreatedAt   time.Time `json:"created_at"`
		Track       trackJSON `json:"track"`
	}
	recs := h.records()
	out := make([]jsonRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, jsonRecord{
			Name:        rec.Name,
			ChannelID:   rec.ChannelID.String(),
			TrackerAddr: rec.TrackerAddr,
			ContactURL:  rec.ContactURL,
			Genre:       rec.Genre,
			Desc:        rec.Desc,
			Listeners:   rec.Listeners,
			Relays:      rec.Relays,
			Bitrate:     rec.Bitrate,
			StreamExt:   rec.StreamExt,
			Comment:     rec.Comment,
			CreatedAt:   rec.CreatedAt,
			Track:       rec.Track,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// escapeField escapes the "<>" delimiter out of a free-text field so the
// legacy line format stays parseable, per spec.md §6's repeated
// "name (escaped)" field.
func escapeField(s string) string {
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// formatUptime renders d as "H:MM", per spec.md §6's index.txt uptime field.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%d:%02d", hours, minutes)
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

func newTestRepo(t *testing.T) (*channel.Repository, gnuid.GnuId) {
	t.Helper()
	repo := channel.NewRepository(channel.RepositoryConfig{})
	t.Cleanup(repo.Close)
	ch, _ := repo.GetOrCreate(gnuid.New(), nil)
	ch.Broker().UpdateChannelInfo(model.ChannelInfo{
		Name:      "Test Channel",
		Genre:     "Talk",
		Desc:      "a test channel",
		StreamExt: "flv",
		Bitrate:   128,
	}, model.TrackInfo{Title: "Now Playing"})
	return repo, ch.ID
}

func TestServeIndexText(t *testing.T) {
	repo, id := newTestRepo(t)
	h := New(repo, false)

	req := httptest.NewRequest(http.MethodGet, "/index.txt", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	body := rw.Body.String()
	if !strings.Contains(body, "Test Channel") {
		t.Errorf("body missing channel name: %q", body)
	}
	if !strings.Contains(body, id.String()) {
		t.Errorf("body missing channel id: %q", body)
	}
	fields := strings.Split(strings.TrimSpace(strings.SplitN(body, "\r\n", 2)[0]), "<>")
	if len(fields) != 20 {
		t.Errorf("got %d fields, want 20: %v", len(fields), fields)
	}
}

func TestServeIndexJSON(t *testing.T) {
	repo, id := newTestRepo(t)
	h := New(repo, true)

	req := httptest.NewRequest(http.MethodGet, "/api/index.json", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(rw.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	if out[0]["channel_id"] != id.String() {
		t.Errorf("channel_id = %v, want %s", out[0]["channel_id"], id.String())
	}
	track, ok := out[0]["track"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected track sub-object, got %T", out[0]["track"])
	}
	if track["title"] != "Now Playing" {
		t.Errorf("track.title = %v, want %q", track["title"], "Now Playing")
	}
}

func TestServeUnknownPathIs404(t *testing.T) {
	repo, _ := newTestRepo(t)
	h := New(repo, false)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rw.Code)
	}
}

package keepright

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"openqa/internal/cache"
	"openqa/internal/entity"
	"openqa/internal/geo"
	"openqa/internal/providers"
)

const geojsonFixture = `{
  "features": [
    {
      "geometry": {"type": "Point", "coordinates": [11.5, 48.1]},
      "properties": {
        "error_id": 101,
        "error_type": "30",
        "title": "non-closed area",
        "schema": "58",
        "object_type": "way",
        "object_id": 4242,
        "comment": "bob"
      }
    },
    {
      "geometry": {"type": "Point", "coordinates": [11.6, 48.2]},
      "properties": {"error_type": "40", "title": "record without id"}
    },
    {
      "geometry": {"type": "Point", "coordinates": [11.7, 91.5]},
      "properties": {"error_id": 102, "error_type": "50", "title": "out of world"}
    }
  ]
}`

const gpxFixture = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1">
  <wpt lat="48.1" lon="11.5">
    <name>almost-junction</name>
    <desc>ways are close but not connected</desc>
    <cmt>looked at it, unclear</cmt>
    <extensions>
      <error_id>2001</error_id>
      <error_type>191</error_type>
      <schema>58</schema>
      <object_type>way</object_type>
      <object_id>777</object_id>
    </extensions>
  </wpt>
  <wpt lat="48.2" lon="11.6">
    <name>no id on this one</name>
  </wpt>
</gpx>`

type stubUpstream struct {
	mu      sync.Mutex
	queries []string

	exportBody   string
	exportStatus int
	commentCode  int
}

func newUpstream(t *testing.T) (*stubUpstream, *httptest.Server) {
	t.Helper()
	u := &stubUpstream{exportStatus: http.StatusOK, commentCode: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.queries = append(u.queries, r.URL.Path+"?"+r.URL.RawQuery)
		u.mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/export.php"):
			w.WriteHeader(u.exportStatus)
			_, _ = w.Write([]byte(u.exportBody))
		case strings.HasPrefix(r.URL.Path, "/comment.php"):
			w.WriteHeader(u.commentCode)
		case strings.HasPrefix(r.URL.Path, "/img/"):
			_, _ = w.Write([]byte("png"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return u, srv
}

func newProvider(t *testing.T, srv *httptest.Server, format string) *Provider {
	t.Helper()
	c := cache.New(t.TempDir(), nil, srv.Client())
	return New(c, Config{
		BaseAPI:    srv.URL + "/export.php?",
		BaseImg:    srv.URL + "/img/zap%d.png",
		CommentURL: srv.URL + "/comment.php?st=%s&co=%s&schema=%s&id=%s",
		Format:     format,
	})
}

func TestQueryURLDeterministic(t *testing.T) {
	c := cache.New(t.TempDir(), nil, nil)
	p := New(c, Config{BaseAPI: "https://qa.example/export.php?"})
	b := geo.Bound{MinLat: 48, MinLon: 11.25, MaxLat: 48.5, MaxLon: 11.75}
	got := p.QueryURL(b, []string{"30", "191"}, "geojson")
	want := "https://qa.example/export.php?format=geojson&ch=30,191&left=11.25&bottom=48&right=11.75&top=48.5"
	if got != want {
		t.Fatalf("QueryURL = %q, want %q", got, want)
	}
	if again := p.QueryURL(b, []string{"30", "191"}, "geojson"); again != got {
		t.Fatal("QueryURL must be deterministic for identical input")
	}
}

func TestFetchAndParseGeoJSON(t *testing.T) {
	u, srv := newUpstream(t)
	u.exportBody = geojsonFixture
	p := newProvider(t, srv, "geojson")

	s, err := p.FetchAndParse(context.Background(), geo.Bound{MinLat: 48, MinLon: 11, MaxLat: 49, MaxLon: 12})
	if err != nil {
		t.Fatalf("FetchAndParse: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (two records are malformed)", s.Len())
	}
	e, ok := s.Get("101")
	if !ok {
		t.Fatal("entity 101 missing")
	}
	if e.Code != "30" {
		t.Fatalf("Code = %q, want 30", e.Code)
	}
	if e.Coord.Lat != 48.1 || e.Coord.Lon != 11.5 {
		t.Fatalf("Coord = %+v, want lat 48.1 lon 11.5", e.Coord)
	}
	if e.Attr("object_id") != "4242" {
		t.Fatalf("object_id = %q, want 4242 (numeric field flattened)", e.Attr("object_id"))
	}
}

func TestFetchAndParseGPX(t *testing.T) {
	u, srv := newUpstream(t)
	u.exportBody = gpxFixture
	p := newProvider(t, srv, "gpx")

	s, err := p.FetchAndParse(context.Background(), geo.Bound{MinLat: 48, MinLon: 11, MaxLat: 49, MaxLon: 12})
	if err != nil {
		t.Fatalf("FetchAndParse: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (waypoint without error_id is skipped)", s.Len())
	}
	e, _ := s.Get("2001")
	if e.Code != "191" {
		t.Fatalf("Code = %q, want 191", e.Code)
	}
	if e.Attr("title") != "almost-junction" {
		t.Fatalf("title = %q", e.Attr("title"))
	}
	if e.Attr("schema") != "58" {
		t.Fatalf("schema = %q, want 58", e.Attr("schema"))
	}
}

func TestUnknownFormatFallsBackToGPX(t *testing.T) {
	u, srv := newUpstream(t)
	u.exportBody = gpxFixture
	p := newProvider(t, srv, "protobuf")
	s, err := p.FetchAndParse(context.Background(), geo.Bound{MinLat: 48, MinLon: 11, MaxLat: 49, MaxLon: 12})
	if err != nil {
		t.Fatalf("FetchAndParse: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestFetchAndParseUpstreamFailure(t *testing.T) {
	u, srv := newUpstream(t)
	u.exportStatus = http.StatusInternalServerError
	p := newProvider(t, srv, "gpx")
	_, err := p.FetchAndParse(context.Background(), geo.Bound{MinLat: 48, MinLon: 11, MaxLat: 49, MaxLon: 12})
	var fe *cache.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *cache.FetchError", err)
	}
}

func TestTooltipComposition(t *testing.T) {
	c := cache.New(t.TempDir(), nil, nil)
	p := New(c, Config{BaseErrorURL: "https://qa.example/report_map.php?schema=%s&error=%s"})
	e, _ := entity.New("101", geo.LatLon{Lat: 48.1, Lon: 11.5}, "30")
	e.SetAttr("title", "non-closed area")
	e.SetAttr("description", "this way should be closed")
	e.SetAttr("schema", "58")
	e.SetAttr("object_type", "way")
	e.SetAttr("object_id", "4242")
	e.SetAttr("comment", "<bob>")
	got := p.Tooltip(context.Background(), e)
	for _, want := range []string{
		"KeepRight: non-closed area",
		"https://qa.example/report_map.php?schema=58&error=101",
		"this way should be closed",
		"object way 4242",
		"&lt;bob&gt;",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("tooltip %q missing %q", got, want)
		}
	}
}

func TestIconQuantizesToGroup(t *testing.T) {
	u, srv := newUpstream(t)
	p := newProvider(t, srv, "gpx")
	ctx := context.Background()

	path := p.Icon(ctx, "191", 16)
	if path == providers.IconUnknown {
		t.Fatal("expected a cached icon path")
	}
	u.mu.Lock()
	last := u.queries[len(u.queries)-1]
	u.mu.Unlock()
	if !strings.Contains(last, "/img/zap190.png") {
		t.Fatalf("icon request %q, want group 190", last)
	}
	if p.Icon(ctx, "not-a-number", 16) != providers.IconUnknown {
		t.Fatal("non-numeric code must fall back to the unknown icon")
	}
}

func TestMarkResolved(t *testing.T) {
	u, srv := newUpstream(t)
	p := newProvider(t, srv, "gpx")
	ctx := context.Background()

	e, _ := entity.New("101", geo.LatLon{Lat: 48.1, Lon: 11.5}, "30")
	e.SetAttr("schema", "58")
	if err := p.MarkResolved(ctx, e, providers.VerdictFixed); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	if !e.Resolved() {
		t.Fatal("successful verdict must set ActionTaken")
	}
	u.mu.Lock()
	last := u.queries[len(u.queries)-1]
	u.mu.Unlock()
	if !strings.Contains(last, "st=ignore_t") || !strings.Contains(last, "id=101") {
		t.Fatalf("comment request %q, want st=ignore_t and id=101", last)
	}

	e2, _ := entity.New("102", geo.LatLon{Lat: 48.2, Lon: 11.6}, "40")
	e2.SetAttr("schema", "58")
	if err := p.MarkResolved(ctx, e2, providers.VerdictFalsePositive); err != nil {
		t.Fatalf("MarkResolved false positive: %v", err)
	}
	u.mu.Lock()
	last = u.queries[len(u.queries)-1]
	u.mu.Unlock()
	if !strings.Contains(last, "st=ignore&") {
		t.Fatalf("comment request %q, want st=ignore", last)
	}
}

func TestMarkResolvedFailureIsRetryable(t *testing.T) {
	u, srv := newUpstream(t)
	u.commentCode = http.StatusServiceUnavailable
	p := newProvider(t, srv, "gpx")
	ctx := context.Background()

	e, _ := entity.New("101", geo.LatLon{Lat: 48.1, Lon: 11.5}, "30")
	err := p.MarkResolved(ctx, e, providers.VerdictFixed)
	var me *providers.MutationError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *providers.MutationError", err)
	}
	if e.Resolved() {
		t.Fatal("failed verdict must leave ActionTaken unset")
	}

	// 上游恢复后重试同一实体应当成功
	u.commentCode = http.StatusOK
	if err := p.MarkResolved(ctx, e, providers.VerdictFixed); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if !e.Resolved() {
		t.Fatal("retry must set ActionTaken")
	}
}

func TestErrorCodesStaticTable(t *testing.T) {
	c := cache.New(t.TempDir(), nil, nil)
	p := New(c, Config{})
	codes := p.ErrorCodes(context.Background())
	if len(codes) == 0 {
		t.Fatal("static table must not be empty")
	}
	if codes[0].ID != "0" {
		t.Fatalf("first code = %s, want 0", codes[0].ID)
	}
	byID := make(map[string]string, len(codes))
	for _, cd := range codes {
		byID[cd.ID] = cd.Label
	}
	if byID["191"] == "" {
		t.Fatal("code 191 missing from table")
	}
	if len(p.DefaultCodes()) != len(codes) {
		t.Fatal("defaults should enable the full table")
	}
}

func TestDownloadErrorList(t *testing.T) {
	c := cache.New(t.TempDir(), nil, nil)
	p := New(c, Config{Enabled: []string{"30", "40", "191"}})
	if got := p.DownloadErrorList(); got != "30,40,191" {
		t.Fatalf("DownloadErrorList = %q", got)
	}
}

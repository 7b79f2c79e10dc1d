package providers

import (
	"context"
	"testing"

	"openqa/internal/entity"
	"openqa/internal/geo"
)

func TestSanitizeUser(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "<Anonymous>"},
		{"   ", "<Anonymous>"},
		{"alice", "alice"},
		{"  alice  ", "alice"},
		{"<bob> & \"carol\"", "&lt;bob&gt; &amp; &quot;carol&quot;"},
	}
	for _, c := range cases {
		if got := SanitizeUser(c.in); got != c.want {
			t.Fatalf("SanitizeUser(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestJoinCodes(t *testing.T) {
	if got := JoinCodes(nil); got != "" {
		t.Fatalf("JoinCodes(nil) = %q", got)
	}
	if got := JoinCodes([]string{"30", "40", "xxxx"}); got != "30,40,xxxx" {
		t.Fatalf("JoinCodes = %q", got)
	}
}

func TestActions(t *testing.T) {
	p := &nopProvider{name: "fake"}
	e, err := entity.New("a", geo.LatLon{Lat: 1, Lon: 1}, "30")
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	acts := Actions(p, e)
	if len(acts) != 2 {
		t.Fatalf("actions = %d, want 2", len(acts))
	}
	if acts[0].Label != "Fixed" || acts[0].Verdict != VerdictFixed {
		t.Fatalf("acts[0] = %+v", acts[0])
	}
	if acts[1].Label != "False positive" || acts[1].Verdict != VerdictFalsePositive {
		t.Fatalf("acts[1] = %+v", acts[1])
	}
	if err := acts[0].Invoke(context.Background()); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if p.lastVerdict != VerdictFixed {
		t.Fatalf("lastVerdict = %q, want fixed", p.lastVerdict)
	}
}

type nopProvider struct {
	name        string
	lastVerdict Verdict
}

func (p *nopProvider) Name() string                                { return p.name }
func (p *nopProvider) QueryURL(geo.Bound, []string, string) string { return "" }
func (p *nopProvider) FetchAndParse(context.Context, geo.Bound) (*entity.Store, error) {
	return entity.NewStore(), nil
}
func (p *nopProvider) Tooltip(context.Context, *entity.Entity) string { return "" }
func (p *nopProvider) Icon(context.Context, string, int) string       { return IconUnknown }
func (p *nopProvider) ErrorCodes(context.Context) []Code              { return nil }
func (p *nopProvider) DefaultCodes() []string                         { return nil }
func (p *nopProvider) DownloadErrorList() string                      { return "" }
func (p *nopProvider) MarkResolved(_ context.Context, _ *entity.Entity, v Verdict) error {
	p.lastVerdict = v
	return nil
}

func TestRegistryOrderAndToggle(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&nopProvider{name: "b"})
	reg.Register(&nopProvider{name: "a"})
	reg.Register(&nopProvider{name: "b"}) // duplicate name ignored

	all := reg.All()
	if len(all) != 2 || all[0].Name() != "b" || all[1].Name() != "a" {
		t.Fatalf("All = %v, want registration order [b a]", all)
	}
	if !reg.IsEnabled("a") {
		t.Fatal("providers are enabled by default")
	}
	if !reg.SetEnabled("a", false) {
		t.Fatal("SetEnabled on known provider should succeed")
	}
	if reg.SetEnabled("missing", false) {
		t.Fatal("SetEnabled on unknown provider should fail")
	}
	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].Name() != "b" {
		t.Fatalf("Enabled = %v, want [b]", enabled)
	}
	// 停用不清空仓库
	s, ok := reg.Store("a")
	if !ok || s == nil {
		t.Fatal("store must survive a disable")
	}
}

func TestRegistryBeginUpdate(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&nopProvider{name: "a"})
	unlock, ok := reg.BeginUpdate("a")
	if !ok {
		t.Fatal("BeginUpdate on known provider should succeed")
	}
	unlock()
	if _, ok := reg.BeginUpdate("missing"); ok {
		t.Fatal("BeginUpdate on unknown provider should fail")
	}
}

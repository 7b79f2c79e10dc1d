package entity

import (
	"sync"
	"testing"

	"openqa/internal/geo"
)

func mustEntity(t *testing.T, id string, lat, lon float64, code string) *Entity {
	t.Helper()
	e, err := New(id, geo.LatLon{Lat: lat, Lon: lon}, code)
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	return e
}

func ids(es []*Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("", geo.LatLon{}, "0"); err == nil {
		t.Fatal("empty id should be rejected")
	}
	if _, err := New("1", geo.LatLon{Lat: 91, Lon: 0}, "0"); err == nil {
		t.Fatal("out-of-world coordinate should be rejected")
	}
	if _, err := New("1", geo.LatLon{Lat: 999, Lon: 999}, "0"); err == nil {
		t.Fatal("sentinel coordinate should be rejected")
	}
}

func TestAddDeduplicatesByID(t *testing.T) {
	s := NewStore()
	a := mustEntity(t, "a", 1, 1, "30")
	a.SetAttr("title", "old")
	s.Add(a)
	a2 := mustEntity(t, "a", 1, 1, "30")
	a2.SetAttr("title", "new")
	s.Add(a2)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	got, _ := s.Get("a")
	if got.Attr("title") != "new" {
		t.Fatalf("title = %q, want refreshed value", got.Attr("title"))
	}
}

func TestAddCopiesEntity(t *testing.T) {
	s := NewStore()
	a := mustEntity(t, "a", 1, 1, "30")
	s.Add(a)
	a.SetAttr("title", "mutated after add")
	got, _ := s.Get("a")
	if got.Attr("title") != "" {
		t.Fatal("store must hold its own copy, not the caller's pointer")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	base := NewStore()
	in := NewStore()
	in.Add(mustEntity(t, "a", 1, 1, "30"))
	in.Add(mustEntity(t, "b", 2, 2, "40"))
	base.Merge(in)
	base.Merge(in)
	if base.Len() != 2 {
		t.Fatalf("Len = %d, want 2", base.Len())
	}
}

func TestMergeOrderIndependentContent(t *testing.T) {
	mk := func() (*Store, *Store) {
		s1 := NewStore()
		s1.Add(mustEntity(t, "a", 1, 1, "30"))
		s1.Add(mustEntity(t, "b", 2, 2, "40"))
		s2 := NewStore()
		b := mustEntity(t, "b", 2, 2, "40")
		b.SetAttr("title", "fresh")
		s2.Add(b)
		s2.Add(mustEntity(t, "c", 3, 3, "50"))
		return s1, s2
	}

	s1, s2 := mk()
	ab := NewStore()
	ab.Merge(s1)
	ab.Merge(s2)

	s1, s2 = mk()
	ba := NewStore()
	ba.Merge(s2)
	ba.Merge(s1)

	if ab.Len() != 3 || ba.Len() != 3 {
		t.Fatalf("Len = %d / %d, want 3 / 3", ab.Len(), ba.Len())
	}
	for _, id := range []string{"a", "b", "c"} {
		e1, ok1 := ab.Get(id)
		e2, ok2 := ba.Get(id)
		if !ok1 || !ok2 {
			t.Fatalf("id %s missing after merge", id)
		}
		if e1.Attr("title") != e2.Attr("title") {
			t.Fatalf("id %s diverged: %q vs %q", id, e1.Attr("title"), e2.Attr("title"))
		}
	}
}

func TestMergeSelfAndNilAreNoops(t *testing.T) {
	s := NewStore()
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	s.Merge(nil)
	s.Merge(s)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestActionTakenIsSticky(t *testing.T) {
	s := NewStore()
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	if !s.MarkResolved("a") {
		t.Fatal("MarkResolved on present id should report true")
	}
	// 同 id 的新快照不得回退终态
	in := NewStore()
	in.Add(mustEntity(t, "a", 1, 1, "30"))
	s.Merge(in)
	got, _ := s.Get("a")
	if !got.Resolved() {
		t.Fatal("ActionTaken must survive a merge of an unresolved snapshot")
	}
}

func TestStickySurvivesRemoveAndReadd(t *testing.T) {
	s := NewStore()
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	s.Add(mustEntity(t, "b", 2, 2, "40"))
	s.MarkResolved("a")

	kept := s.RemoveResolved(func(e *Entity) bool { return e.Resolved() })
	if kept != 1 || s.Len() != 1 {
		t.Fatalf("kept = %d, Len = %d, want 1, 1", kept, s.Len())
	}
	if _, ok := s.Get("b"); ok {
		t.Fatal("unresolved entity should have been dropped")
	}

	// 再次抓到同一错误时，粘性集合使其直接以已处理状态入库
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	got, _ := s.Get("a")
	if !got.Resolved() {
		t.Fatal("re-added resolved entity must come back with ActionTaken set")
	}
}

func TestSeedResolved(t *testing.T) {
	s := NewStore()
	s.SeedResolved([]string{"x", "y"})
	s.Add(mustEntity(t, "x", 1, 1, "30"))
	s.Add(mustEntity(t, "z", 2, 2, "40"))
	ex, _ := s.Get("x")
	ez, _ := s.Get("z")
	if !ex.Resolved() {
		t.Fatal("seeded id should enter as resolved")
	}
	if ez.Resolved() {
		t.Fatal("unseeded id should enter as unresolved")
	}
}

func TestEntitiesInsertionOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Add(mustEntity(t, id, 1, 1, "30"))
	}
	got := ids(s.Entities())
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Entities order = %v, want %v", got, want)
		}
	}
}

func TestSelection(t *testing.T) {
	s := NewStore()
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	s.Add(mustEntity(t, "b", 2, 2, "40"))
	s.Select([]string{"b", "missing"})
	sel := s.Selected()
	if len(sel) != 1 || sel[0].ID != "b" {
		t.Fatalf("Selected = %v, want [b]", ids(sel))
	}
	s.ClearSelection()
	if len(s.Selected()) != 0 {
		t.Fatal("ClearSelection should empty the selection")
	}
	// 重置式选择：新集合整体替换旧集合
	s.Select([]string{"a"})
	s.Select([]string{"b"})
	sel = s.Selected()
	if len(sel) != 1 || sel[0].ID != "b" {
		t.Fatalf("Selected after reset = %v, want [b]", ids(sel))
	}
}

// 仓库外持有的实体指针会被补充抓取、裁决与序列化并发读写
func TestConcurrentAttrAccess(t *testing.T) {
	e := mustEntity(t, "a", 1, 1, "30")
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch g {
				case 0:
					e.SetAttr("title", "t")
				case 1:
					_ = e.Attr("title")
				case 2:
					_ = e.AttrSnapshot()
				default:
					e.MarkResolved()
					_ = e.Resolved()
				}
			}
		}(g)
	}
	wg.Wait()
	if !e.Resolved() {
		t.Fatal("Resolved must hold after concurrent marking")
	}
	if e.Attr("title") != "t" {
		t.Fatalf("title = %q after concurrent writes", e.Attr("title"))
	}
}

// AttrSnapshot 返回独立拷贝，对拷贝的改动不得写回实体
func TestAttrSnapshotIsACopy(t *testing.T) {
	e := mustEntity(t, "a", 1, 1, "30")
	e.SetAttr("title", "original")
	snap := e.AttrSnapshot()
	snap["title"] = "mutated"
	if e.Attr("title") != "original" {
		t.Fatalf("title = %q, snapshot mutation leaked into the entity", e.Attr("title"))
	}
}

func TestRemoveResolvedClearsSelection(t *testing.T) {
	s := NewStore()
	s.Add(mustEntity(t, "a", 1, 1, "30"))
	s.MarkResolved("a")
	s.Select([]string{"a"})
	s.RemoveResolved(func(e *Entity) bool { return e.Resolved() })
	if len(s.Selected()) != 0 {
		t.Fatal("selection must be cleared by a store rebuild")
	}
}

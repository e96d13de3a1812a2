package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hiroroworks/gemini-super-linker/kv"
)

const url1 = "https://x/app/1"

func testStore(t *testing.T) (*Store, *kv.Memory, *[]string) {
	t.Helper()
	mem := kv.NewMemory()
	var notes []string
	s := New(mem, WithNotifier(NotifierFunc(func(_ context.Context, msg string) {
		notes = append(notes, msg)
	})))
	return s, mem, &notes
}

func mustList(t *testing.T, s *Store) []Record {
	t.Helper()
	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return recs
}

func assertSorted(t *testing.T, recs []Record) {
	t.Helper()
	for i := 1; i < len(recs); i++ {
		if recs[i-1].LastSeen < recs[i].LastSeen {
			t.Fatalf("not sorted at %d: %d < %d", i, recs[i-1].LastSeen, recs[i].LastSeen)
		}
	}
}

func assertUnique(t *testing.T, recs []Record) {
	t.Helper()
	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r.URL] {
			t.Fatalf("duplicate url %s", r.URL)
		}
		seen[r.URL] = true
	}
}

func TestUpsert_EmptyStore(t *testing.T) {
	s, _, notes := testStore(t)
	ctx := context.Background()

	rec, wrote, err := s.Upsert(ctx, url1, "Trip Plan", 100)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !wrote {
		t.Fatal("Upsert: wrote=false")
	}
	want := Record{URL: url1, Title: "Trip Plan", LastSeen: 100, IsRenamed: false}
	if rec != want {
		t.Errorf("record: got %+v, want %+v", rec, want)
	}

	recs := mustList(t, s)
	if len(recs) != 1 || recs[0] != want {
		t.Fatalf("store: got %+v, want [%+v]", recs, want)
	}
	if len(*notes) != 1 || (*notes)[0] != "保存: Trip Plan..." {
		t.Errorf("notes: got %q", *notes)
	}
}

func TestUpsert_RenameProtection(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, url1, "Trip Plan", 100)
	if err := s.Rename(ctx, url1, "My Trip"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	rec, wrote, err := s.Upsert(ctx, url1, "Trip Plan v2", 200)
	if err != nil || !wrote {
		t.Fatalf("Upsert: wrote=%v err=%v", wrote, err)
	}
	if rec.Title != "My Trip" || !rec.IsRenamed || rec.LastSeen != 200 {
		t.Errorf("record: got %+v", rec)
	}

	got, ok, _ := s.Get(ctx, url1)
	if !ok {
		t.Fatal("record missing")
	}
	if got.Title != "My Trip" {
		t.Errorf("Title: got %q, want %q", got.Title, "My Trip")
	}
	if !got.IsRenamed {
		t.Error("IsRenamed: got false, want true")
	}
	if got.LastSeen != 200 {
		t.Errorf("LastSeen: got %d, want 200", got.LastSeen)
	}
}

func TestUpsert_DuplicateSuppressed(t *testing.T) {
	s, mem, notes := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, url1, "Trip Plan", 100)
	_, wrote, err := s.Upsert(ctx, url1, "Trip Plan", 200)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if wrote {
		t.Error("second identical upsert wrote")
	}
	if mem.Writes() != 1 {
		t.Errorf("Writes: got %d, want 1", mem.Writes())
	}
	if len(*notes) != 1 {
		t.Errorf("notes: got %d, want 1", len(*notes))
	}
	if recs := mustList(t, s); recs[0].LastSeen != 100 {
		t.Errorf("LastSeen: got %d, want 100", recs[0].LastSeen)
	}
}

func TestUpsert_DuplicateAfterInterveningObservation(t *testing.T) {
	s, mem, _ := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, url1, "Trip Plan", 100)
	s.Upsert(ctx, "https://x/app/2", "Other", 150)
	s.Upsert(ctx, url1, "Trip Plan", 200)
	if mem.Writes() != 3 {
		t.Errorf("Writes: got %d, want 3", mem.Writes())
	}
	recs := mustList(t, s)
	if recs[0].URL != url1 || recs[0].LastSeen != 200 {
		t.Errorf("front: got %+v", recs[0])
	}
}

func TestUpsert_TitleUpdatedWhenNotRenamed(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, url1, "Untitled", 100)
	s.Upsert(ctx, url1, "Trip Plan", 200)
	recs := mustList(t, s)
	if len(recs) != 1 {
		t.Fatalf("len: got %d, want 1", len(recs))
	}
	if recs[0].Title != "Trip Plan" || recs[0].IsRenamed {
		t.Errorf("record: got %+v", recs[0])
	}
}

func TestUpsert_LastTouchedWinsTie(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	a, b := "https://x/app/a", "https://x/app/b"

	s.Upsert(ctx, a, "A", 100)
	s.Upsert(ctx, b, "B", 200)
	s.Upsert(ctx, a, "A", 300)
	s.Upsert(ctx, b, "B", 300)

	recs := mustList(t, s)
	if len(recs) != 2 {
		t.Fatalf("len: got %d, want 2", len(recs))
	}
	if recs[0].URL != b || recs[1].URL != a {
		t.Errorf("order: got [%s %s], want [%s %s]", recs[0].URL, recs[1].URL, b, a)
	}
}

func TestUpsert_StoreUnavailable(t *testing.T) {
	s, mem, notes := testStore(t)
	ctx := context.Background()

	mem.FailNext(1)
	if _, _, err := s.Upsert(ctx, url1, "Trip Plan", 100); !errors.Is(err, kv.ErrUnavailable) {
		t.Fatalf("Upsert: got %v, want ErrUnavailable", err)
	}
	if len(*notes) != 0 {
		t.Error("notified after failed persist")
	}

	// The failed write must not poison the dedup memory.
	_, wrote, err := s.Upsert(ctx, url1, "Trip Plan", 200)
	if err != nil || !wrote {
		t.Fatalf("retry: wrote=%v err=%v", wrote, err)
	}
}

func TestUpsert_FailedSetDoesNotUpdateMemory(t *testing.T) {
	mem := kv.NewMemory()
	ctx := context.Background()

	// Get succeeds, Set fails.
	mem.Set(ctx, Key, []byte("[]"))
	s2 := New(&failingSet{Memory: mem})
	if _, _, err := s2.Upsert(ctx, url1, "Trip Plan", 100); err == nil {
		t.Fatal("expected error")
	}
	if s2.lastURL != "" {
		t.Errorf("lastURL: got %q, want empty", s2.lastURL)
	}
}

type failingSet struct{ *kv.Memory }

func (f *failingSet) Set(context.Context, string, []byte) error { return kv.ErrUnavailable }

func TestRename(t *testing.T) {
	s, mem, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, url1, "Trip Plan", 100)
	before := mem.Writes()

	if err := s.Rename(ctx, url1, ""); err != nil {
		t.Fatalf("Rename empty: %v", err)
	}
	if err := s.Rename(ctx, url1, "Trip Plan"); err != nil {
		t.Fatalf("Rename unchanged: %v", err)
	}
	if err := s.Rename(ctx, "https://x/app/missing", "New"); err != nil {
		t.Fatalf("Rename missing: %v", err)
	}
	if mem.Writes() != before {
		t.Errorf("no-op renames wrote: got %d writes, want %d", mem.Writes(), before)
	}
	got, _, _ := s.Get(ctx, url1)
	if got.IsRenamed {
		t.Error("IsRenamed set by a no-op rename")
	}

	if err := s.Rename(ctx, url1, "My Trip"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _, _ = s.Get(ctx, url1)
	if got.Title != "My Trip" || !got.IsRenamed || got.LastSeen != 100 {
		t.Errorf("after rename: got %+v", got)
	}

	if err := s.Rename(ctx, url1, "Our Trip"); err != nil {
		t.Fatalf("second Rename: %v", err)
	}
	got, _, _ = s.Get(ctx, url1)
	if got.Title != "Our Trip" || !got.IsRenamed {
		t.Errorf("after second rename: got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, url1, "Trip Plan", 100)
	s.Upsert(ctx, "https://x/app/2", "Other", 200)

	if err := s.Delete(ctx, url1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	recs := mustList(t, s)
	if len(recs) != 1 {
		t.Fatalf("len: got %d, want 1", len(recs))
	}
	for _, r := range recs {
		if r.URL == url1 {
			t.Error("deleted record still present")
		}
	}

	if err := s.Delete(ctx, url1); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	if len(mustList(t, s)) != 1 {
		t.Error("deleting an absent url changed the list")
	}
}

func TestProperties_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	urls := []string{"https://x/app/1", "https://x/app/2", "https://x/gem/g/3", "https://x/app/4"}
	titles := []string{"Alpha", "Beta", "Gamma"}

	for round := 0; round < 20; round++ {
		s := New(kv.NewMemory())
		ctx := context.Background()
		renamed := make(map[string]string)
		now := int64(0)

		for step := 0; step < 60; step++ {
			u := urls[rng.Intn(len(urls))]
			switch rng.Intn(6) {
			case 0:
				title := fmt.Sprintf("manual-%d", step)
				if _, ok, _ := s.Get(ctx, u); ok {
					renamed[u] = title
				}
				s.Rename(ctx, u, title)
			case 1:
				s.Delete(ctx, u)
				delete(renamed, u)
			default:
				now += int64(rng.Intn(3))
				s.Upsert(ctx, u, titles[rng.Intn(len(titles))], now)
			}

			recs := mustList(t, s)
			assertUnique(t, recs)
			assertSorted(t, recs)
			for _, r := range recs {
				if want, ok := renamed[r.URL]; ok {
					if r.Title != want || !r.IsRenamed {
						t.Fatalf("round %d step %d: renamed record overwritten: %+v, want title %q", round, step, r, want)
					}
				}
			}
		}
	}
}

func TestSearch(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, "https://x/app/1", "Trip Plan", 100)
	s.Upsert(ctx, "https://x/app/2", "Budget", 200)
	s.Upsert(ctx, "https://x/app/3", "trip notes", 300)

	got, err := s.Search(ctx, "TRIP")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search: got %d, want 2", len(got))
	}
	if got[0].URL != "https://x/app/3" {
		t.Errorf("order: got %s first", got[0].URL)
	}
	all, _ := s.Search(ctx, "")
	if len(all) != 3 {
		t.Errorf("empty keyword: got %d, want 3", len(all))
	}
}

func TestExportImport(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, "https://x/app/1", "Trip Plan", 100)
	s.Upsert(ctx, "https://x/app/2", "Budget", 200)
	s.Rename(ctx, "https://x/app/1", "My Trip")

	var buf bytes.Buffer
	n, err := s.Export(ctx, &buf)
	if err != nil || n != 2 {
		t.Fatalf("Export: n=%d err=%v", n, err)
	}
	if !strings.Contains(buf.String(), "\n  {") {
		t.Error("export is not indented")
	}
	var decoded []Record
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if decoded[0].URL != "https://x/app/2" || !decoded[1].IsRenamed {
		t.Errorf("export content: got %+v", decoded)
	}

	fresh := New(kv.NewMemory())
	n, err = fresh.Import(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil || n != 2 {
		t.Fatalf("Import: n=%d err=%v", n, err)
	}
	got, _, _ := fresh.Get(ctx, "https://x/app/1")
	if got.Title != "My Trip" || got.IsRenamed {
		t.Errorf("imported: got %+v, want title My Trip without the rename flag", got)
	}
}

func TestImport_MergeKeepsRename(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, url1, "Trip Plan", 100)
	s.Rename(ctx, url1, "My Trip")

	in := `[{"url":"https://x/app/1","title":"Trip Plan v9","lastSeen":500,"isRenamed":false}]`
	if _, err := s.Import(ctx, strings.NewReader(in)); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, _, _ := s.Get(ctx, url1)
	if got.Title != "My Trip" || !got.IsRenamed || got.LastSeen != 500 {
		t.Errorf("merged: got %+v", got)
	}
}

func TestImport_NeverSetsRenamed(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()
	s.Upsert(ctx, url1, "Trip Plan", 100)

	in := `[{"url":"https://x/app/1","title":"Forged","lastSeen":50,"isRenamed":true},
		{"url":"https://x/app/2","title":"Budget","lastSeen":60,"isRenamed":true}]`
	if _, err := s.Import(ctx, strings.NewReader(in)); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, _, _ := s.Get(ctx, url1)
	if got.Title != "Trip Plan" || got.IsRenamed {
		t.Errorf("existing record: got %+v", got)
	}
	added, _, _ := s.Get(ctx, "https://x/app/2")
	if added.Title != "Budget" || added.IsRenamed {
		t.Errorf("added record: got %+v", added)
	}

	// The page title still wins on the next observation.
	s.Upsert(ctx, "https://x/app/2", "Budget 2027", 70)
	added, _, _ = s.Get(ctx, "https://x/app/2")
	if added.Title != "Budget 2027" {
		t.Errorf("title after upsert: got %q", added.Title)
	}
}

func TestImport_RepairsMalformed(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	in := `[{"url": "https://x/app/1", "title": "Trip", "lastSeen": 100, "isRenamed": false},]`
	n, err := s.Import(ctx, strings.NewReader(in))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 1 {
		t.Errorf("Import: got %d, want 1", n)
	}
}

func TestImport_RejectsNonList(t *testing.T) {
	s, _, _ := testStore(t)
	_, err := s.Import(context.Background(), strings.NewReader(`{"url": "https://x/app/1"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Import: got %v, want ErrMalformed", err)
	}
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	if got := ExportFilename(now); got != "gemini_history_2026-10-15.json" {
		t.Errorf("ExportFilename: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("ありがとうございました旅行計画の相談です", 15); got != "ありがとうございました旅行計画" {
		t.Errorf("truncate: got %q", got)
	}
	if got := truncate("short", 15); got != "short" {
		t.Errorf("truncate: got %q", got)
	}
}

func TestUpsert_SQLiteBackend(t *testing.T) {
	s := New(kv.OpenMemory(t))
	ctx := context.Background()

	s.Upsert(ctx, url1, "Trip Plan", 100)
	s.Rename(ctx, url1, "My Trip")
	s.Upsert(ctx, url1, "Trip Plan v2", 200)

	recs := mustList(t, s)
	want := []Record{{URL: url1, Title: "My Trip", LastSeen: 200, IsRenamed: true}}
	if len(recs) != 1 || recs[0] != want[0] {
		t.Errorf("records: got %+v, want %+v", recs, want)
	}
}

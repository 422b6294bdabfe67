package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/tariff"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// touch writes a small distinguishable file for a version.
func touch(t *testing.T, s *Store, version string) string {
	t.Helper()
	p, err := s.PathFor(version)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("snapshot "+version), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseToken(t *testing.T) {
	cases := []struct {
		in, month, day string
	}{
		{"202404", "202404", ""},
		{"20240415", "202404", "20240415"},
		{"2024-04-15", "202404", "20240415"},
		{"2024-04", "202404", ""},
	}
	for _, c := range cases {
		tok, err := ParseToken(c.in)
		if err != nil {
			t.Fatalf("ParseToken(%q): %v", c.in, err)
		}
		if tok.Month != c.month || tok.Day != c.day || tok.VersionID() != c.month {
			t.Errorf("ParseToken(%q) = %+v", c.in, tok)
		}
	}
	for _, bad := range []string{"", "2024", "202413", "2024-02-30", "abril", "2024/04"} {
		if _, err := ParseToken(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseToken(%q) err = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestListVersionsIgnoresPointerAndStrays(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202301")
	touch(t, s, "202403")
	touch(t, s, "20240415")
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(s.Dir(), "arancel_2024.sqlite3"), nil, 0o644)
	if _, err := s.UpdateLatestPointer(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListVersions()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"20240415", "202403", "202301"}
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions = %v, want %v", got, want)
		}
	}
}

func TestResolveNearestEarlier(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202301")
	touch(t, s, "202403")
	ctx := context.Background()

	cases := map[string]string{
		"202402":     "202301",
		"202501":     "202403",
		"202212":     "202301",
		"202403":     "202403",
		"2024-03-09": "202403",
		"20230115":   "202301",
	}
	for token, want := range cases {
		snap, err := s.Resolve(ctx, token)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", token, err)
		}
		if snap.Version != want {
			t.Errorf("Resolve(%q) = %s, want %s", token, snap.Version, want)
		}
		if filepath.Base(snap.Path) != s.FileName(want) {
			t.Errorf("Resolve(%q) path = %s", token, snap.Path)
		}
	}
}

func TestResolvePrefixTieGreatestWins(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202404")
	touch(t, s, "20240401")
	touch(t, s, "20240415")

	snap, err := s.Resolve(context.Background(), "202404")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != "20240415" {
		t.Fatalf("version = %s, want 20240415", snap.Version)
	}
}

func TestResolveEmptyStore(t *testing.T) {
	s := newStore(t)
	for _, token := range []string{"", "202404", "garbage"} {
		if _, err := s.Resolve(context.Background(), token); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q) err = %v, want ErrNotFound", token, err)
		}
	}
}

func TestResolveLegacyFallback(t *testing.T) {
	legacy := filepath.Join(t.TempDir(), "database.sqlite3")
	os.WriteFile(legacy, []byte("legacy"), 0o644)
	s := newStore(t, WithLegacyPath(legacy))

	for _, token := range []string{"", "202404"} {
		snap, err := s.Resolve(context.Background(), token)
		if err != nil {
			t.Fatal(err)
		}
		if !snap.Legacy || snap.Path != legacy {
			t.Fatalf("Resolve(%q) = %+v, want legacy", token, snap)
		}
	}

	touch(t, s, "202301")
	snap, err := s.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Legacy || snap.Version != "202301" {
		t.Fatalf("versioned file should win over legacy: %+v", snap)
	}
}

func TestResolveLatestThroughPointer(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202301")
	touch(t, s, "202403")
	ctx := context.Background()

	upd, err := s.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !upd.Changed || upd.Version != "202403" || upd.Method != "symlink" {
		t.Fatalf("update = %+v", upd)
	}

	for _, token := range []string{"", "latest", "not-a-date"} {
		snap, err := s.Resolve(ctx, token)
		if err != nil {
			t.Fatal(err)
		}
		if !snap.Latest || snap.Version != "202403" {
			t.Fatalf("Resolve(%q) = %+v", token, snap)
		}
	}
}

func TestUpdateLatestPointerIdempotent(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202403")
	ctx := context.Background()

	if _, err := s.UpdateLatestPointer(ctx); err != nil {
		t.Fatal(err)
	}
	upd, err := s.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if upd.Changed {
		t.Fatalf("second update changed the pointer: %+v", upd)
	}

	touch(t, s, "202405")
	upd, err = s.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !upd.Changed || upd.Version != "202405" {
		t.Fatalf("update after new version = %+v", upd)
	}
	cur, _ := s.CurrentVersion()
	if cur != "202405" {
		t.Fatalf("current = %s", cur)
	}
}

func TestUpdateLatestPointerNoVersions(t *testing.T) {
	s := newStore(t)
	upd, err := s.UpdateLatestPointer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if upd.Changed {
		t.Fatal("pointer changed with no versions")
	}
	if _, err := os.Lstat(s.LatestPath()); !os.IsNotExist(err) {
		t.Fatalf("pointer created with no versions: %v", err)
	}
}

type failingPointer struct{}

func (failingPointer) Name() string { return "broken" }
func (failingPointer) Point(target, link string) error { return errors.New("symlinks not permitted") }

func TestPointerFallbackToCopy(t *testing.T) {
	s := newStore(t, WithPointer(failingPointer{}, CopyPointer{}))
	touch(t, s, "202301")
	touch(t, s, "202403")
	ctx := context.Background()

	upd, err := s.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var w *PointerFallbackWarning
	if !errors.As(upd.Warning, &w) || w.From != "broken" || w.To != "copy" {
		t.Fatalf("warning = %v", upd.Warning)
	}
	if upd.Method != "copy" {
		t.Fatalf("method = %s", upd.Method)
	}

	fi, err := os.Lstat(s.LatestPath())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t.Fatal("pointer is a symlink, want a copy")
	}
	data, _ := os.ReadFile(s.LatestPath())
	if string(data) != "snapshot 202403" {
		t.Fatalf("copied content = %q", data)
	}
	if cur, _ := s.CurrentVersion(); cur != "202403" {
		t.Fatalf("current via sidecar = %q", cur)
	}

	snap, err := s.Resolve(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != "202403" || !snap.Latest {
		t.Fatalf("resolve through copy = %+v", snap)
	}
}

func TestPointerNoFallbackFails(t *testing.T) {
	s := newStore(t, WithPointer(failingPointer{}, nil))
	touch(t, s, "202403")
	if _, err := s.UpdateLatestPointer(context.Background()); err == nil {
		t.Fatal("expected error without fallback")
	}
}

func TestSymlinkReplacesCopy(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202301")
	touch(t, s, "202403")
	ctx := context.Background()

	p, _ := s.PathFor("202301")
	if err := (CopyPointer{}).Point(p, s.LatestPath()); err != nil {
		t.Fatal(err)
	}
	if cur, _ := s.CurrentVersion(); cur != "202301" {
		t.Fatalf("current after copy = %q", cur)
	}

	if _, err := s.UpdateLatestPointer(ctx); err != nil {
		t.Fatal(err)
	}
	fi, _ := os.Lstat(s.LatestPath())
	if fi.Mode()&os.ModeSymlink == 0 {
		t.Fatal("pointer not replaced by symlink")
	}
	if _, err := os.Stat(s.LatestPath() + sidecarSuffix); !os.IsNotExist(err) {
		t.Fatal("stale sidecar left behind")
	}
}

func TestPin(t *testing.T) {
	s := newStore(t)
	touch(t, s, "202301")
	touch(t, s, "202403")
	ctx := context.Background()

	if _, err := s.Pin(ctx, "202301"); err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Resolve(ctx, "")
	if snap.Version != "202301" {
		t.Fatalf("pinned resolve = %+v", snap)
	}
	if _, err := s.Pin(ctx, "202212"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pin missing err = %v", err)
	}

	if _, err := s.UpdateLatestPointer(ctx); err != nil {
		t.Fatal(err)
	}
	if cur, _ := s.CurrentVersion(); cur != "202403" {
		t.Fatalf("current after update = %s", cur)
	}
}

func TestNewRejectsCollidingLatestName(t *testing.T) {
	if _, err := New(t.TempDir(), WithLatestName("arancel_202401.sqlite3")); err == nil {
		t.Fatal("expected collision error")
	}
	if _, err := New(t.TempDir(), WithPrefix("../x")); err == nil {
		t.Fatal("expected prefix error")
	}
}

func TestDescribe(t *testing.T) {
	s := newStore(t)
	p, _ := s.PathFor("202404")
	db, err := dbopen.Open(p, dbopen.WithJournalMode("DELETE"),
		dbopen.WithSchema(tariff.Schema), dbopen.WithSchema(tariff.MetadataSchema))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	tariff.SetMetadata(ctx, db, tariff.MetaVersion, "202404")
	tariff.SetMetadata(ctx, db, tariff.MetaSource, "arancel_abril_2024.xlsx")
	db.Close()

	info, err := s.Describe(ctx, "2024-04")
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "202404" || info.Metadata.Source != "arancel_abril_2024.xlsx" {
		t.Fatalf("info = %+v", info)
	}
}

// stamp writes a real snapshot database for version carrying the given
// build status; an empty status writes no status key.
func stamp(t *testing.T, s *Store, version, status string) {
	t.Helper()
	p, err := s.PathFor(version)
	if err != nil {
		t.Fatal(err)
	}
	db, err := dbopen.Open(p, dbopen.WithJournalMode("DELETE"), dbopen.WithSchema(tariff.MetadataSchema))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := tariff.SetMetadata(ctx, db, tariff.MetaVersion, version); err != nil {
		t.Fatal(err)
	}
	if status != "" {
		if err := tariff.SetMetadata(ctx, db, tariff.MetaStatus, status); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUpdateLatestPointerSkipsIncomplete(t *testing.T) {
	s := newStore(t)
	stamp(t, s, "202401", tariff.StatusComplete)
	stamp(t, s, "202403", "")
	stamp(t, s, "202405", tariff.StatusBuilding)
	ctx := context.Background()

	if s.Complete(ctx, "202405") || !s.Complete(ctx, "202403") || !s.Complete(ctx, "202401") {
		t.Fatal("completeness misread")
	}
	if st := s.Status(ctx, "202405"); st != tariff.StatusBuilding {
		t.Fatalf("status = %q", st)
	}

	upd, err := s.UpdateLatestPointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if upd.Version != "202403" {
		t.Fatalf("pointer = %+v, want the newest complete version", upd)
	}

	_, err = s.Pin(ctx, "202405")
	var ie *IncompleteError
	if !errors.As(err, &ie) || ie.Version != "202405" || ie.Status != tariff.StatusBuilding {
		t.Fatalf("pin incomplete = %v", err)
	}
	if cur, _ := s.CurrentVersion(); cur != "202403" {
		t.Fatalf("current = %q after refused pin", cur)
	}

	// Without a pointer, the newest complete version is served.
	if err := os.Remove(s.LatestPath()); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Resolve(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != "202403" {
		t.Fatalf("resolve without pointer = %+v", snap)
	}
}

func TestUpdateLatestPointerOnlyIncomplete(t *testing.T) {
	s := newStore(t)
	stamp(t, s, "202405", tariff.StatusBuilding)

	upd, err := s.UpdateLatestPointer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if upd.Changed {
		t.Fatalf("pointer moved to an incomplete snapshot: %+v", upd)
	}
	if _, err := os.Lstat(s.LatestPath()); !os.IsNotExist(err) {
		t.Fatalf("pointer created: %v", err)
	}
}

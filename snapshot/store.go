// Package snapshot manages the directory of immutable, versioned tariff
// snapshot files and the "latest" pointer that designates the current one.
//
// The store is pure file-system: every call re-reads the directory, so a
// snapshot built by another process is visible on the next call.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/arancel/dbopen"
	"github.com/hazyhaar/arancel/guard"
	"github.com/hazyhaar/arancel/tariff"
)

// ErrNotFound is returned when no snapshot at all can answer a request.
var ErrNotFound = errors.New("snapshot: not found")

// IncompleteError reports a snapshot file whose build never finished. Such
// a file is never designated latest; it must be removed before the version
// can be built again.
type IncompleteError struct {
	Version string
	Status  string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("snapshot: version %s is incomplete (status %q)", e.Version, e.Status)
}

// Snapshot identifies one resolved snapshot file.
type Snapshot struct {
	Version string `json:"version"`
	Path    string `json:"path"`
	Latest  bool   `json:"latest,omitempty"`
	Legacy  bool   `json:"legacy,omitempty"`
}

// PointerUpdate reports the outcome of moving the latest pointer.
type PointerUpdate struct {
	Version string `json:"version"`
	Target  string `json:"target"`
	Method  string `json:"method,omitempty"`
	Changed bool   `json:"changed"`
	// Warning is a *PointerFallbackWarning when the fallback strategy was used.
	Warning error `json:"-"`
}

// Store is a directory of snapshot files named {prefix}_{version}.{ext}.
type Store struct {
	dir        string
	prefix     string
	ext        string
	latestName string
	legacyPath string
	primary    PointerUpdater
	fallback   PointerUpdater
	logger     *slog.Logger
	pattern    *regexp.Regexp
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the file name prefix. Default: "arancel".
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// WithExtension sets the file extension without dot. Default: "sqlite3".
func WithExtension(ext string) Option { return func(s *Store) { s.ext = strings.TrimPrefix(ext, ".") } }

// WithLatestName sets the pointer file name. Default: "{prefix}_latest.{ext}".
func WithLatestName(name string) Option { return func(s *Store) { s.latestName = name } }

// WithLegacyPath sets the single default file served when the store holds
// no versioned snapshot and no pointer.
func WithLegacyPath(path string) Option { return func(s *Store) { s.legacyPath = path } }

// WithPointer sets the pointer strategies. fallback may be nil.
// Default: SymlinkPointer with CopyPointer fallback.
func WithPointer(primary, fallback PointerUpdater) Option {
	return func(s *Store) { s.primary, s.fallback = primary, fallback }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New returns a Store over dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		prefix:   "arancel",
		ext:      "sqlite3",
		primary:  SymlinkPointer{},
		fallback: CopyPointer{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.latestName == "" {
		s.latestName = s.prefix + "_latest." + s.ext
	}
	if err := guard.ValidateFileName(s.prefix); err != nil {
		return nil, fmt.Errorf("snapshot: prefix: %w", err)
	}
	if err := guard.ValidateFileName(s.ext); err != nil {
		return nil, fmt.Errorf("snapshot: extension: %w", err)
	}
	if err := guard.ValidateFileName(s.latestName); err != nil {
		return nil, fmt.Errorf("snapshot: latest name: %w", err)
	}
	if s.primary == nil {
		return nil, fmt.Errorf("snapshot: pointer strategy is required")
	}
	s.pattern = regexp.MustCompile(`^` + regexp.QuoteMeta(s.prefix) + `_(\d{6}|\d{8})\.` + regexp.QuoteMeta(s.ext) + `$`)
	if s.pattern.MatchString(s.latestName) {
		return nil, fmt.Errorf("snapshot: latest name %q collides with versioned names", s.latestName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir: %w", err)
	}
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// LatestPath returns the path of the latest pointer.
func (s *Store) LatestPath() string { return filepath.Join(s.dir, s.latestName) }

// FileName returns the file name a version is stored under.
func (s *Store) FileName(version string) string {
	return s.prefix + "_" + version + "." + s.ext
}

// PathFor returns the path of an exact version, which need not exist yet.
func (s *Store) PathFor(version string) (string, error) {
	name := s.FileName(version)
	if !s.pattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, version)
	}
	return guard.SafePath(s.dir, name)
}

// Exists reports whether an exact version file is present.
func (s *Store) Exists(version string) bool {
	p, err := s.PathFor(version)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// ListVersions returns every stored version, newest first.
func (s *Store) ListVersions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read dir: %w", err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := s.pattern.FindStringSubmatch(e.Name()); m != nil {
			versions = append(versions, m[1])
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	return versions, nil
}

// Resolve maps a version token to a snapshot. An empty token (or "latest")
// designates the current snapshot. A dated token picks the newest snapshot
// of that month, else the nearest earlier one, else the earliest. A token
// that does not parse is logged and treated as empty.
func (s *Store) Resolve(ctx context.Context, token string) (Snapshot, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.EqualFold(token, "latest") {
		return s.resolveLatest(ctx)
	}
	tok, err := ParseToken(token)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot: unparseable version token, using latest", "token", token)
		return s.resolveLatest(ctx)
	}

	versions, err := s.ListVersions()
	if err != nil {
		return Snapshot{}, err
	}
	if len(versions) == 0 {
		return s.resolveLegacy()
	}

	for _, v := range versions {
		if strings.HasPrefix(v, tok.Month) {
			return s.snapshotOf(v), nil
		}
	}
	for _, v := range versions {
		if v[:6] < tok.Month {
			s.logger.DebugContext(ctx, "snapshot: no exact version, using nearest earlier",
				"token", token, "version", v)
			return s.snapshotOf(v), nil
		}
	}
	earliest := versions[len(versions)-1]
	s.logger.DebugContext(ctx, "snapshot: token predates all versions, using earliest",
		"token", token, "version", earliest)
	return s.snapshotOf(earliest), nil
}

func (s *Store) resolveLatest(ctx context.Context) (Snapshot, error) {
	link := s.LatestPath()
	if fi, err := os.Stat(link); err == nil && fi.Mode().IsRegular() {
		snap := Snapshot{Path: link, Latest: true}
		if v, err := s.CurrentVersion(); err == nil && v != "" {
			snap.Version = v
			if s.Exists(v) {
				snap.Path, _ = s.PathFor(v)
			}
		}
		return snap, nil
	}

	versions, err := s.ListVersions()
	if err != nil {
		return Snapshot{}, err
	}
	if v, ok := s.newestComplete(ctx, versions); ok {
		s.logger.WarnContext(ctx, "snapshot: latest pointer missing, serving newest version", "version", v)
		return s.snapshotOf(v), nil
	}
	return s.resolveLegacy()
}

func (s *Store) resolveLegacy() (Snapshot, error) {
	if s.legacyPath != "" {
		if fi, err := os.Stat(s.legacyPath); err == nil && fi.Mode().IsRegular() {
			return Snapshot{Path: s.legacyPath, Legacy: true}, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: no snapshot in %s", ErrNotFound, s.dir)
}

func (s *Store) snapshotOf(version string) Snapshot {
	return Snapshot{Version: version, Path: filepath.Join(s.dir, s.FileName(version))}
}

// CurrentVersion returns the version the latest pointer designates, or ""
// when there is no pointer or it cannot be attributed to a version.
func (s *Store) CurrentVersion() (string, error) {
	name, err := pointerTarget(s.LatestPath())
	if err != nil {
		return "", fmt.Errorf("snapshot: read pointer: %w", err)
	}
	if m := s.pattern.FindStringSubmatch(name); m != nil {
		return m[1], nil
	}
	return "", nil
}

// UpdateLatestPointer points the latest pointer at the greatest version.
// It does nothing when the pointer already resolves there, and when the
// store holds no version at all.
func (s *Store) UpdateLatestPointer(ctx context.Context) (PointerUpdate, error) {
	versions, err := s.ListVersions()
	if err != nil {
		return PointerUpdate{}, err
	}
	if len(versions) == 0 {
		s.logger.WarnContext(ctx, "snapshot: no versions, latest pointer left untouched", "dir", s.dir)
		return PointerUpdate{}, nil
	}
	v, ok := s.newestComplete(ctx, versions)
	if !ok {
		s.logger.WarnContext(ctx, "snapshot: no complete version, latest pointer left untouched", "dir", s.dir)
		return PointerUpdate{}, nil
	}
	return s.pointTo(ctx, v)
}

// Status returns the build status stamped into version's metadata. Files
// without readable metadata (legacy or foreign databases) report "".
func (s *Store) Status(ctx context.Context, version string) string {
	p, err := s.PathFor(version)
	if err != nil {
		return ""
	}
	db, err := dbopen.OpenReadOnly(p)
	if err != nil {
		s.logger.DebugContext(ctx, "snapshot: status unreadable", "version", version, "error", err)
		return ""
	}
	defer db.Close()
	meta, err := tariff.ReadMetadata(ctx, db)
	if err != nil {
		s.logger.DebugContext(ctx, "snapshot: status unreadable", "version", version, "error", err)
		return ""
	}
	return meta.Status
}

// Complete reports whether version may be designated latest: its status is
// complete, or it carries no status at all.
func (s *Store) Complete(ctx context.Context, version string) bool {
	st := s.Status(ctx, version)
	return st == "" || st == tariff.StatusComplete
}

// newestComplete returns the first complete version of versions (newest
// first).
func (s *Store) newestComplete(ctx context.Context, versions []string) (string, bool) {
	for _, v := range versions {
		if s.Complete(ctx, v) {
			return v, true
		}
		s.logger.WarnContext(ctx, "snapshot: skipping incomplete version",
			"version", v, "status", s.Status(ctx, v))
	}
	return "", false
}

// Pin points the latest pointer at an existing version. A later
// UpdateLatestPointer moves it back to the greatest version.
func (s *Store) Pin(ctx context.Context, version string) (PointerUpdate, error) {
	if !s.Exists(version) {
		return PointerUpdate{}, fmt.Errorf("%w: version %q", ErrNotFound, version)
	}
	if st := s.Status(ctx, version); st != "" && st != tariff.StatusComplete {
		return PointerUpdate{}, &IncompleteError{Version: version, Status: st}
	}
	return s.pointTo(ctx, version)
}

func (s *Store) pointTo(ctx context.Context, version string) (PointerUpdate, error) {
	target, err := s.PathFor(version)
	if err != nil {
		return PointerUpdate{}, err
	}
	link := s.LatestPath()
	upd := PointerUpdate{Version: version, Target: target}

	if cur, err := s.CurrentVersion(); err == nil && cur == version {
		if _, err := os.Stat(link); err == nil {
			return upd, nil
		}
	}

	upd.Method = s.primary.Name()
	err = s.primary.Point(target, link)
	if err != nil {
		if s.fallback == nil {
			return upd, fmt.Errorf("snapshot: update pointer: %w", err)
		}
		w := &PointerFallbackWarning{From: s.primary.Name(), To: s.fallback.Name(), Err: err}
		s.logger.WarnContext(ctx, "snapshot: pointer strategy failed, falling back",
			"from", w.From, "to", w.To, "error", err)
		if err2 := s.fallback.Point(target, link); err2 != nil {
			return upd, fmt.Errorf("snapshot: update pointer: %w", errors.Join(err, err2))
		}
		upd.Method = s.fallback.Name()
		upd.Warning = w
	}
	upd.Changed = true
	s.logger.InfoContext(ctx, "snapshot: latest pointer updated",
		"version", version, "method", upd.Method)
	return upd, nil
}

// Open resolves token and opens the snapshot read-only.
func (s *Store) Open(ctx context.Context, token string) (*sql.DB, Snapshot, error) {
	snap, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, snap, err
	}
	db, err := dbopen.OpenReadOnly(snap.Path)
	if err != nil {
		return nil, snap, fmt.Errorf("snapshot: open %s: %w", filepath.Base(snap.Path), err)
	}
	return db, snap, nil
}

// Info is a resolved snapshot with the provenance stamped into it.
type Info struct {
	Snapshot
	Metadata tariff.Metadata `json:"metadata"`
}

// Describe resolves token and reads the snapshot's metadata.
func (s *Store) Describe(ctx context.Context, token string) (Info, error) {
	db, snap, err := s.Open(ctx, token)
	if err != nil {
		return Info{Snapshot: snap}, err
	}
	defer db.Close()
	meta, err := tariff.ReadMetadata(ctx, db)
	if err != nil {
		return Info{Snapshot: snap}, err
	}
	if snap.Version == "" {
		snap.Version = meta.Version
	}
	return Info{Snapshot: snap, Metadata: meta}, nil
}

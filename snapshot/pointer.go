package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/arancel/idgen"
)

// PointerUpdater makes link designate target. Implementations must leave
// link either on its old target or on the new one, never dangling.
type PointerUpdater interface {
	Name() string
	Point(target, link string) error
}

// PointerFallbackWarning records that the primary pointer strategy failed
// and the secondary one was used instead.
type PointerFallbackWarning struct {
	From string
	To   string
	Err  error
}

func (w *PointerFallbackWarning) Error() string {
	return fmt.Sprintf("snapshot: pointer fell back from %s to %s: %v", w.From, w.To, w.Err)
}

func (w *PointerFallbackWarning) Unwrap() error { return w.Err }

// sidecarSuffix names the file that records which version a copied
// pointer holds.
const sidecarSuffix = ".target"

var tmpSuffix = idgen.NanoID(8)

// SymlinkPointer swaps a relative symlink into place with rename(2).
type SymlinkPointer struct{}

func (SymlinkPointer) Name() string { return "symlink" }

func (SymlinkPointer) Point(target, link string) error {
	tmp := link + ".tmp-" + tmpSuffix()
	if err := os.Symlink(filepath.Base(target), tmp); err != nil {
		return fmt.Errorf("snapshot: symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: swap symlink: %w", err)
	}
	os.Remove(link + sidecarSuffix)
	return nil
}

// CopyPointer copies target to a temporary file, verifies the copy, renames
// it over link, then records the target name in a sidecar file.
type CopyPointer struct{}

func (CopyPointer) Name() string { return "copy" }

func (CopyPointer) Point(target, link string) error {
	tmp := link + ".tmp-" + tmpSuffix()
	if err := copyFile(target, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: copy pointer: %w", err)
	}
	if err := sameContent(target, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: copy pointer: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: swap copy: %w", err)
	}
	return writeFileAtomic(link+sidecarSuffix, []byte(filepath.Base(target)+"\n"))
}

// pointerTarget returns the file name link designates, or "" when the link
// is absent or a copy without sidecar.
func pointerTarget(link string) (string, error) {
	fi, err := os.Lstat(link)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t, err := os.Readlink(link)
		if err != nil {
			return "", err
		}
		return filepath.Base(t), nil
	}
	data, err := os.ReadFile(link + sidecarSuffix)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sameContent(a, b string) error {
	ha, err := hashFile(a)
	if err != nil {
		return err
	}
	hb, err := hashFile(b)
	if err != nil {
		return err
	}
	if ha != hb {
		return fmt.Errorf("copy of %s does not match source", filepath.Base(a))
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + tmpSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Package files keeps uploaded media binaries in a single flat directory.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const stashPrefix = ".trash-"

var ErrInvalidName = errors.New("files: invalid file name")

// Entry describes one file in the store directory.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store stores files on local disk under root.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Path resolves a stored file name to its location on disk. Names must be
// plain, visible file names.
func (s *Store) Path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	p, err := ConfineRelPath(s.root, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return p, nil
}

// Write stores r under name and returns the number of bytes written. The
// file appears under its final name only once fully written and synced.
func (s *Store) Write(name string, r io.Reader) (int64, error) {
	p, err := s.Path(name)
	if err != nil {
		return 0, err
	}

	pending, err := renameio.NewPendingFile(p,
		renameio.WithTempDir(s.root),
		renameio.WithPermissions(0644),
	)
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, r)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("commit %s: %w", name, err)
	}

	return n, nil
}

func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (s *Store) Stat(name string) (os.FileInfo, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

func (s *Store) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// RemoveEntry removes any regular entry in the root, including hidden
// leftovers such as stashes and temporary files.
func (s *Store) RemoveEntry(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return os.Remove(filepath.Join(s.root, name))
}

// List returns every regular file in the root, hidden entries included.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// IsStash reports whether name is a stash left behind by Stash.
func IsStash(name string) bool {
	return strings.HasPrefix(name, stashPrefix)
}

// Stash moves a file out of the way so its removal can still be undone.
type Stash struct {
	store   *Store
	name    string
	stashed string
}

// Stash renames name to a hidden stash entry. The caller must call either
// Restore or Discard.
func (s *Store) Stash(name string) (*Stash, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	stashed := filepath.Join(s.root, stashPrefix+name)
	if err := os.Rename(p, stashed); err != nil {
		return nil, err
	}
	return &Stash{store: s, name: name, stashed: stashed}, nil
}

// Restore moves the stashed file back under its original name.
func (st *Stash) Restore() error {
	p, err := st.store.Path(st.name)
	if err != nil {
		return err
	}
	return os.Rename(st.stashed, p)
}

// Discard deletes the stashed file.
func (st *Stash) Discard() error {
	err := os.Remove(st.stashed)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Unstash moves a stash left behind by an interrupted delete back under its
// original name.
func (s *Store) Unstash(stashName string) error {
	name, ok := strings.CutPrefix(stashName, stashPrefix)
	if !ok {
		return fmt.Errorf("%w: %q is not a stash", ErrInvalidName, stashName)
	}
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Rename(filepath.Join(s.root, stashName), p)
}

// StashedName returns the original name of a stash entry.
func StashedName(stashName string) (string, bool) {
	name, ok := strings.CutPrefix(stashName, stashPrefix)
	return name, ok && name != ""
}

// URIPrefix is the uri path under which stored files are served.
const URIPrefix = "/uploads/"

// URI returns the catalog uri for a stored file name.
func URI(name string) string {
	return URIPrefix + name
}

// NameFromURI returns the stored file name a uri refers to, and false when
// the uri does not point at a file owned by this store.
func NameFromURI(uri string) (string, bool) {
	name, ok := strings.CutPrefix(uri, URIPrefix)
	if !ok || name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\?#`) {
		return "", false
	}
	return name, true
}

package ps

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
	"github.com/google/uuid"
	"github.com/w4cha/csv-manager/core"
)

var (
	ErrNoHistory    = errors.New("history is not enabled for this data directory")
	ErrFileNotFound = errors.New("file not found")
)

// Persistence owns the directory holding the table files. When history is
// enabled the same directory is the worktree of a git repository and every
// recorded change of a table file becomes a commit.
type Persistence struct {
	fs   billy.Filesystem
	repo *git.Repository
	mu   sync.RWMutex
}

// HasHistory returns true if changes are recorded in a repository
func (p *Persistence) HasHistory() bool {
	return p != nil && p.repo != nil
}

func (p *Persistence) ensureHistory() error {
	if !p.HasHistory() {
		return ErrNoHistory
	}
	return nil
}

// NewMemoryPersistence keeps table files and history in memory.
func NewMemoryPersistence() (*Persistence, error) {
	wt := memfs.New()
	storer := memory.NewStorage()

	repo, err := git.Init(storer, git.WithWorkTree(wt))
	if err != nil {
		return nil, err
	}

	return &Persistence{
		fs:   wt,
		repo: repo,
	}, nil
}

// NewFilePersistence stores table files under baseDir. With history set, a
// repository is created in baseDir/.git, or opened if it already exists.
func NewFilePersistence(baseDir string, history bool) (*Persistence, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	wt := osfs.New(baseDir)
	if !history {
		return &Persistence{fs: wt}, nil
	}

	fs, err := wt.Chroot(".git")
	if err != nil {
		return nil, err
	}

	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	var repo *git.Repository
	if _, statErr := os.Stat(fs.Root()); statErr != nil {
		repo, err = git.Init(storer, git.WithWorkTree(wt))
	} else {
		repo, err = git.Open(storer, wt)
	}
	if err != nil {
		return nil, err
	}

	return &Persistence{
		fs:   wt,
		repo: repo,
	}, nil
}

func (p *Persistence) Open(name string) (billy.File, error) {
	file, err := p.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return file, err
}

// Create truncates or creates name.
func (p *Persistence) Create(name string) (billy.File, error) {
	return p.fs.Create(name)
}

func (p *Persistence) OpenAppend(name string) (billy.File, error) {
	file, err := p.fs.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0644)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return file, err
}

// Rename replaces to with from.
func (p *Persistence) Rename(from, to string) error {
	return p.fs.Rename(from, to)
}

func (p *Persistence) Remove(name string) error {
	return p.fs.Remove(name)
}

func (p *Persistence) Exists(name string) bool {
	_, err := p.fs.Stat(name)
	return err == nil
}

func (p *Persistence) ReadFile(name string) ([]byte, error) {
	file, err := p.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile replaces name with data through a temporary file.
func (p *Persistence) WriteFile(name string, data []byte) error {
	tmp := TempName(name)
	file, err := p.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		p.fs.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		p.fs.Remove(tmp)
		return err
	}
	if err := p.fs.Rename(tmp, name); err != nil {
		p.fs.Remove(tmp)
		return err
	}
	return nil
}

// List returns the visible files in the data directory ending in ext,
// sorted by name.
func (p *Persistence) List(ext string) ([]string, error) {
	entries, err := p.fs.ReadDir("/")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || path.Ext(name) != ext {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// TempName returns a hidden sibling name for a rewrite of name.
func TempName(name string) string {
	return fmt.Sprintf(".%s.%s.tmp", name, uuid.NewString())
}

// Record commits the current content of name. It is a no-op without
// history or when the content did not change.
func (p *Persistence) Record(name string, identity core.Identity, message string) (Transaction, error) {
	if !p.HasHistory() {
		return Transaction{}, nil
	}
	data, err := p.ReadFile(name)
	if err != nil {
		return Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	blob, err := p.createBlob(data)
	if err != nil {
		return Transaction{}, err
	}
	return p.commitChanges([]treeChange{{name: name, blob: blob}}, identity, message)
}

// Forget records the removal of name.
func (p *Persistence) Forget(name string, identity core.Identity, message string) (Transaction, error) {
	if !p.HasHistory() {
		return Transaction{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.commitChanges([]treeChange{{name: name, remove: true}}, identity, message)
}

// RecordRename records from being renamed to to in a single commit.
func (p *Persistence) RecordRename(from, to string, identity core.Identity, message string) (Transaction, error) {
	if !p.HasHistory() {
		return Transaction{}, nil
	}
	data, err := p.ReadFile(to)
	if err != nil {
		return Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	blob, err := p.createBlob(data)
	if err != nil {
		return Transaction{}, err
	}
	return p.commitChanges([]treeChange{
		{name: from, remove: true},
		{name: to, blob: blob},
	}, identity, message)
}

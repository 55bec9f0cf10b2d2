// Package reposcache implements the Repository Cache (C2): materializing a
// generator source tree at a pinned revision under a content-addressed
// path, idempotently and with per-path serialization of concurrent
// first-use. Ported from the clone-at-revision sequence in
// original_source/crate/ootrstats/src/worker.rs (init / remote add / fetch
// --depth=1 / reset --hard).
package reposcache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Cache materializes repository checkouts under Root.
type Cache struct {
	Root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Cache rooted at root.
func New(root string) *Cache {
	return &Cache{Root: root, locks: make(map[string]*sync.Mutex)}
}

// Path returns the content-addressed checkout path for the given
// coordinates, without materializing it.
func (c *Cache) Path(user, repo, revisionHex string) string {
	return filepath.Join(c.Root, user, repo, "rev", revisionHex)
}

// Ensure materializes the checkout if it does not already exist, and
// returns its path. Concurrent callers for the same path are serialized
// on a per-path lock; callers for distinct paths proceed independently.
func (c *Cache) Ensure(ctx context.Context, user, repo, revisionHex string) (string, error) {
	path := c.Path(user, repo, revisionHex)
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", path, err)
	}

	origin := fmt.Sprintf("https://github.com/%s/%s.git", user, repo)
	steps := [][]string{
		{"init"},
		{"remote", "add", "origin", origin},
		{"fetch", "--depth=1", "origin", revisionHex},
		{"reset", "--hard", "FETCH_HEAD"},
	}
	for _, args := range steps {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = path
		if out, err := cmd.CombinedOutput(); err != nil {
			os.RemoveAll(path)
			return "", fmt.Errorf("git %v: %w: %s", args, err, out)
		}
	}

	return path, nil
}

// StageBaseROM copies src to <repoPath>/<baseROMName> when not already
// present, the additional preparation step used by the random-settings
// ("rsl") worker setup variant (SPEC_FULL.md SUPPLEMENTED FEATURES #4).
func StageBaseROM(repoPath, src, baseROMName string) error {
	dst := filepath.Join(repoPath, baseROMName)
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dst, err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read base rom %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write base rom %s: %w", dst, err)
	}
	return nil
}

func (c *Cache) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[path] = lock
	}
	return lock
}

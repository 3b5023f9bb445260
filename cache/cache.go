package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Rendered post pages are cached as flat HTML files under cacheDir. The
// filename carries an xxHash of the slug so a stale file for a renamed slug
// never shadows a fresh one.
const cacheDir = "cache-pages"

// PagePath returns the cache file path for a post page.
func PagePath(slug string) string {
	hash := xxhash.Sum64String(slug)
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%016x.html", slug, hash))
}

// Write stores rendered HTML for a post page.
func Write(slug, html string) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(PagePath(slug), []byte(html), 0644)
}

// Read returns the cached HTML for a post page if present and younger than
// maxAge.
func Read(slug string, maxAge time.Duration) (string, bool) {
	path := PagePath(slug)

	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if time.Since(info.ModTime()) > maxAge {
		return "", false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(content), true
}

// Clear removes the cached page for a slug, including files left behind by
// earlier hashes of the same slug.
func Clear(slug string) error {
	if err := removeFile(PagePath(slug)); err != nil {
		return err
	}

	matches, err := filepath.Glob(filepath.Join(cacheDir, slug+"_*.html"))
	if err != nil {
		return nil
	}
	for _, match := range matches {
		os.Remove(match)
	}
	return nil
}

// ClearOld removes cached pages older than maxAge.
func ClearOld(maxAge time.Duration) error {
	return filepath.Walk(cacheDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		if time.Since(info.ModTime()) > maxAge {
			os.Remove(path)
		}
		return nil
	})
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

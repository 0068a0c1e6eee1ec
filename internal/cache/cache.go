package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Prefix marks files written by this cache. Pruning never touches
// anything else in the directory.
const Prefix = "gmrt_"

type Cache struct {
	Location string
	Logger   *zap.Logger
}

// CacheFileName turns an object path into a flat cache file name.
func CacheFileName(bucket, objectPath string) string {
	replacer := strings.NewReplacer("/", "_", "?", "_", "&", "", "=", "")
	return Prefix + replacer.Replace(strings.Trim(path.Join(bucket, objectPath), "/"))
}

// GetItemFromCache opens `cacheFileName` within `subDir`.
func (c *Cache) GetItemFromCache(cacheFileName string, subDir string) (*os.File, error) {
	return os.Open(filepath.Join(c.Location, subDir, cacheFileName))
}

// PutItemInCache copies `data` into `cacheFileName` within `subDir`
// and returns the number of bytes written. The data goes to a
// temporary file first, so readers only ever see complete items.
func (c *Cache) PutItemInCache(cacheFileName string, subDir string, data io.Reader) (int64, error) {
	dir := filepath.Join(c.Location, subDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating cache file in %s: %w", dir, err)
	}
	num, err := io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	fullPath := filepath.Join(dir, cacheFileName)
	if err == nil {
		err = os.Rename(tmp.Name(), fullPath)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("writing cache file %s: %w", fullPath, err)
	}
	return num, nil
}

// HasItem reports whether `cacheFileName` is cached within `subDir`.
func (c *Cache) HasItem(cacheFileName string, subDir string) bool {
	_, err := os.Stat(filepath.Join(c.Location, subDir, cacheFileName))
	return err == nil
}

// Prune removes the oldest cache files in `dir` until the total size
// is at most `maxBytes`. It returns the number of files removed.
func (c *Cache) Prune(dir string, maxBytes int64) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var files []os.FileInfo
	var currentBytes int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
		currentBytes += info.Size()
	}

	removed := 0
	for currentBytes > maxBytes && len(files) > 0 {
		oldest := 0
		for ii, file := range files {
			if file.ModTime().Before(files[oldest].ModTime()) {
				oldest = ii
			}
		}
		file := files[oldest]
		c.Logger.Info(
			"Cache over maximum, removing oldest file",
			zap.String("filename", file.Name()),
			zap.Int64("cache_bytes", currentBytes),
			zap.Int64("max_bytes", maxBytes),
		)
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			return removed, err
		}
		currentBytes -= file.Size()
		files = append(files[:oldest], files[oldest+1:]...)
		removed++
	}
	return removed, nil
}

// CheckCache prunes `dir` every `checkInterval` seconds until `ctx`
// is done.
func (c *Cache) CheckCache(ctx context.Context, dir string, checkInterval int, maxBytes int64) {
	ticker := time.NewTicker(time.Duration(checkInterval) * time.Second)
	defer ticker.Stop()
	for {
		if _, err := c.Prune(dir, maxBytes); err != nil {
			c.Logger.Warn("CheckCache error", zap.String("dir", dir), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

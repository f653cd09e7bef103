package datasets

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/match"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
)

// listScans returns the naturally sorted paths of the regular files in dir
// whose extension is in exts. A non-empty pattern further filters base names
// with glob syntax (* and ?).
func listScans(fsys fsutil.FileSystem, dir string, exts []string, pattern string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !hasExtension(name, exts) {
			continue
		}
		if pattern != "" && !match.Match(name, pattern) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: tried to read point cloud files in %s but none found", ErrNoScans, dir)
	}

	naturalSort(names)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// longestPrefixMatch returns the file in dir with extension ext whose name
// shares the longest common prefix with base. Ties go to the first name in
// lexical order; exclude filters out candidates.
func longestPrefixMatch(fsys fsutil.FileSystem, dir, base, ext string, exclude func(string) bool) (string, bool) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return "", false
	}
	best, bestLen := "", -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if exclude != nil && exclude(name) {
			continue
		}
		if n := commonPrefixLen(base, name); n > bestLen {
			best, bestLen = name, n
		}
	}
	if bestLen < 0 {
		return "", false
	}
	return filepath.Join(dir, best), true
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maauso/samplepacker/internal/export"
)

// discover returns the absolute, sorted input files and the directory that
// output names are made relative to.
func (r *Runner) discover(input string) ([]string, string, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, "", fmt.Errorf("resolve input: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, "", fmt.Errorf("input: %w", err)
	}
	if !info.IsDir() {
		return []string{abs}, filepath.Dir(abs), nil
	}

	excluded := r.excludedDirs()
	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == abs {
				return nil
			}
			if !r.recursive || excluded[path] || strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && r.extensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("scan %s: %w", input, err)
	}
	sort.Strings(files)
	return files, abs, nil
}

// excludedDirs keeps the output and cache trees out of recursive scans.
func (r *Runner) excludedDirs() map[string]bool {
	out := map[string]bool{}
	for _, dir := range []string{r.exporter.Root(), r.cache.Dir()} {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			out[abs] = true
		}
	}
	return out
}

// outputNames maps each file to its output directory name: the path
// relative to root without extension, with separators flattened. Files
// that would collide keep their extension in the name.
func outputNames(files []string, root string) map[string]string {
	stems := make(map[string]string, len(files))
	count := make(map[string]int, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = filepath.Base(f)
		}
		stem := strings.TrimSuffix(rel, filepath.Ext(rel))
		stem = export.Sanitize(strings.ReplaceAll(filepath.ToSlash(stem), "/", "_"))
		stems[f] = stem
		count[stem]++
	}
	names := make(map[string]string, len(files))
	for _, f := range files {
		name := stems[f]
		if count[name] > 1 {
			name = export.Sanitize(name + "_" + strings.TrimPrefix(strings.ToLower(filepath.Ext(f)), "."))
		}
		names[f] = name
	}
	return names
}

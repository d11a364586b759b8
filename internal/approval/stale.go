package approval

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// PlanFromText returns the first plan file referenced in text, or "".
func (g *Gate) PlanFromText(text string) string {
	for _, p := range g.extractor.Extract(text) {
		if g.extractor.IsPlanPath(p) {
			return p
		}
	}
	return ""
}

// PlanFiles returns the workspace-relative implementation files named in
// the plan, excluding the plan itself and other plan files.
func (g *Gate) PlanFiles(plan string) ([]string, error) {
	resolved, err := g.resolve(plan)
	if err != nil {
		return nil, fmt.Errorf("locate plan %s: %w", plan, err)
	}
	data, err := os.ReadFile(filepath.Join(g.root, filepath.FromSlash(resolved)))
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var files []string
	for _, p := range g.extractor.Extract(string(data)) {
		if g.extractor.IsPlanPath(p) || strings.HasSuffix(p, ".md") {
			continue
		}
		files = append(files, p)
	}
	return files, nil
}

// ModifiedSince returns the plan-referenced files whose mtime is after t.
// Files that do not exist are ignored.
func (g *Gate) ModifiedSince(plan string, t time.Time) ([]string, error) {
	files, err := g.PlanFiles(plan)
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, f := range files {
		resolved, err := g.resolve(f)
		if err != nil {
			continue
		}
		info, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(resolved)))
		if err != nil {
			continue
		}
		if info.ModTime().After(t) {
			changed = append(changed, resolved)
		}
	}
	return changed, nil
}

// LatestPlan returns the most recently modified file under the plan globs.
func (g *Gate) LatestPlan() (string, error) {
	fsys := os.DirFS(g.root)
	var (
		best    string
		bestMod time.Time
	)
	for _, pattern := range g.extractor.PlanGlobs() {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", fmt.Errorf("glob %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil {
				continue
			}
			if best == "" || info.ModTime().After(bestMod) {
				best, bestMod = m, info.ModTime()
			}
		}
	}
	if best == "" {
		return "", fs.ErrNotExist
	}
	return best, nil
}

// resolve maps a normalized (lowercased) relative path back to the file's
// real spelling on case-sensitive filesystems.
func (g *Gate) resolve(rel string) (string, error) {
	rel = path.Clean(filepath.ToSlash(rel))
	if _, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(rel))); err == nil {
		return rel, nil
	}

	dir := ""
	for _, seg := range strings.Split(rel, "/") {
		entries, err := os.ReadDir(filepath.Join(g.root, filepath.FromSlash(dir)))
		if err != nil {
			return "", err
		}
		found := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), seg) {
				found = e.Name()
				break
			}
		}
		if found == "" {
			return "", fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
		}
		dir = path.Join(dir, found)
	}
	if dir == "" {
		return "", errors.New("empty path")
	}
	return dir, nil
}

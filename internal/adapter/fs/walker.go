// Package fs finds uploadable documents on disk for the ingest command.
package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"ragchat/internal/domain"
)

// DefaultIncludes matches every extension with a known format.
var DefaultIncludes = []string{"**/*.txt", "**/*.md", "**/*.markdown", "**/*.pdf"}

// DefaultExcludes skips VCS metadata and hidden directories.
var DefaultExcludes = []string{".git/", "**/.*/"}

type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	if excludes == nil {
		excludes = DefaultExcludes
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

type FileInfo struct {
	Path    string
	RelPath string
	Format  domain.Format
	Size    int64
}

// Walk returns matching files under root in lexical order. A root that is
// a regular file is returned as is when its format is known.
func (w *Walker) Walk(root string) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		format, err := FormatOf(root)
		if err != nil {
			return nil, err
		}
		return []FileInfo{{Path: root, RelPath: filepath.Base(root), Format: format, Size: st.Size()}}, nil
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.shouldInclude(relPath) || w.shouldExclude(relPath) {
			return nil
		}
		format, err := FormatOf(path)
		if err != nil {
			return nil // matched a custom include but has no known format
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: relPath,
			Format:  format,
			Size:    info.Size(),
		})
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, err
}

// FormatOf maps a file extension onto a document format.
func FormatOf(path string) (domain.Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return domain.ParseFormat(ext)
}

func (w *Walker) shouldInclude(path string) bool {
	lower := strings.ToLower(path)
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, lower)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

package match

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File is a staging file selected for upload.
type File struct {
	// Path is relative to the staging root, slash-separated.
	Path string

	// Abs is the absolute local path.
	Abs string

	Size int64
}

// Collect walks root and returns the regular files selected by m, in
// lexical order. Directories that cannot hold a match are skipped.
func Collect(root string, m *Matcher) ([]File, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []File
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && !m.CanDescend(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.Match(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Abs: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

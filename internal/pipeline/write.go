package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/DeusData/lg2jiuwen/internal/codegen"
)

// contentDigest returns the hex xxh3 digest of data.
func contentDigest(data []byte) string {
	h := xxh3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sourceDigest fingerprints a set of sources by path and content. Equal
// sources give equal digests regardless of load order.
func sourceDigest(contents map[string][]byte) string {
	paths := make([]string, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := xxh3.New()
	for _, p := range paths {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(contents[p])
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeFiles places files under dir. Every changed file is first staged in
// a temporary sibling of dir; nothing under dir is touched until all of them
// are staged and ctx is still live. Files whose digest matches the file
// already on disk are left alone and returned as skipped.
func writeFiles(ctx context.Context, dir string, files []codegen.File) (written, skipped []string, err error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, nil, err
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(staging)

	_, statErr := os.Stat(dir)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rel := filepath.FromSlash(f.Path)
		if !filepath.IsLocal(rel) {
			return nil, nil, fmt.Errorf("refusing to write outside output dir: %s", f.Path)
		}
		if !fresh {
			if old, err := fileHash(filepath.Join(dir, rel)); err == nil && old == contentDigest([]byte(f.Content)) {
				skipped = append(skipped, f.Path)
				continue
			}
		}
		dst := filepath.Join(staging, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			return nil, nil, err
		}
		written = append(written, f.Path)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if fresh {
		if err := os.Rename(staging, dir); err != nil {
			return nil, nil, err
		}
		return written, skipped, nil
	}
	for _, p := range written {
		rel := filepath.FromSlash(p)
		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, err
		}
		if err := os.Rename(filepath.Join(staging, rel), dst); err != nil {
			return nil, nil, err
		}
	}
	return written, skipped, nil
}

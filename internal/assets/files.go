package assets

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/objwatch/pkg/encoding"
)

// assetFiles is the partition of one asset directory listing.
type assetFiles struct {
	obj    string   // First .obj file
	mtl    string   // First .mtl file
	images []string // Every file with an image extension
}

func (f assetFiles) names() []string {
	names := make([]string, 0, 2+len(f.images))
	if f.obj != "" {
		names = append(names, f.obj)
	}
	if f.mtl != "" {
		names = append(names, f.mtl)
	}
	return append(names, f.images...)
}

// listFiles returns the regular file names directly inside dir, sorted.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// partitionFiles picks the OBJ, MTL and image files of an asset.
func partitionFiles(files []string, imageExts []string) assetFiles {
	var out assetFiles
	for _, name := range files {
		switch {
		case encoding.HasExt(name, ".obj"):
			if out.obj == "" {
				out.obj = name
			}
		case encoding.HasExt(name, ".mtl"):
			if out.mtl == "" {
				out.mtl = name
			}
		case hasAnyExt(name, imageExts):
			out.images = append(out.images, name)
		}
	}
	return out
}

func hasAnyExt(name string, exts []string) bool {
	for _, ext := range exts {
		if encoding.HasExt(name, ext) {
			return true
		}
	}
	return false
}

// readFiles reads all names from dir concurrently.
// The first failure cancels reads that have not started yet.
func readFiles(ctx context.Context, dir string, names []string) (map[string][]byte, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]byte, len(names))

	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return errors.Wrapf(err, "reading %s", name)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// discover walks root and maps asset names to directories. A directory
// that directly contains an .obj file is one asset; the walk does not
// descend below it.
func discover(root string, log *zap.Logger) (map[string]string, error) {
	paths := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			log.Warn("skipping unreadable directory", zap.String("path", path), zap.Error(err))
			return fs.SkipDir
		}
		if !containsOBJ(entries) {
			return nil
		}

		name := filepath.Base(path)
		if prev, dup := paths[name]; dup {
			log.Warn("duplicate asset name, keeping first",
				zap.String("asset", name),
				zap.String("kept", prev),
				zap.String("skipped", path))
			return fs.SkipDir
		}
		paths[name] = path
		log.Debug("discovered asset", zap.String("asset", name), zap.String("path", path))
		return fs.SkipDir
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning asset root %s", root)
	}
	return paths, nil
}

func containsOBJ(entries []fs.DirEntry) bool {
	for _, e := range entries {
		if !e.IsDir() && encoding.HasExt(e.Name(), ".obj") {
			return true
		}
	}
	return false
}

package imagestore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// FindOrphans は referenced に含まれない画像の相対パス（原本側）を返す。
// アップロード直後で商品に紐づく前のファイルを消さないよう、grace より新しいものは除く。
func (m *Manager) FindOrphans(ctx context.Context, referenced []string, grace time.Duration) ([]string, error) {
	inUse := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		if name, ok := ExtractFilename(p); ok {
			inUse[name] = struct{}{}
		}
	}

	cutoff := m.now().Add(-grace)
	candidates := map[string]struct{}{}

	// サムネイルだけ残っているものも対象
	for _, v := range []Variant{VariantOriginal, VariantThumbnail} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := filepath.Dir(m.AbsolutePath("x", v))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", dir)
		}

		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, ok := inUse[e.Name()]; ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			candidates[e.Name()] = struct{}{}
		}
	}

	out := make([]string, 0, len(candidates))
	for name := range candidates {
		out = append(out, RelativePath(name, VariantOriginal))
	}
	sort.Strings(out)
	return out, nil
}

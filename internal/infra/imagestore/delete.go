package imagestore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const errInvalidImagePath = "invalid image path"

// DeleteResult は1枚分の削除結果
type DeleteResult struct {
	Success      bool     `json:"success"`
	DeletedFiles []string `json:"deletedFiles"`
	Errors       []string `json:"errors"`
}

func newDeleteResult() DeleteResult {
	return DeleteResult{Success: true, DeletedFiles: []string{}, Errors: []string{}}
}

// Err はログ用に Errors をまとめる。無ければ nil。
func (r DeleteResult) Err() error {
	return combine(r.Errors)
}

// DeleteProductImage は原本とサムネイルを削除する。
// 空のパスは何もしない。存在しないファイルの削除は成功扱い。
func (m *Manager) DeleteProductImage(ctx context.Context, relativePath string) DeleteResult {
	res := newDeleteResult()
	if strings.TrimSpace(relativePath) == "" {
		return res
	}

	name, ok := ExtractFilename(relativePath)
	if !ok {
		res.Success = false
		res.Errors = append(res.Errors, errInvalidImagePath)
		return res
	}

	// 片方が失敗してももう片方は試す
	for _, v := range []Variant{VariantOriginal, VariantThumbnail} {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("delete %s %s: %v", v, name, err))
			continue
		}

		deleted, err := removeIfExists(m.AbsolutePath(name, v))
		if err != nil {
			res.Success = false
			res.Errors = append(res.Errors, fmt.Sprintf("delete %s %s: %v", v, name, err))
			continue
		}
		if deleted {
			res.DeletedFiles = append(res.DeletedFiles, RelativePath(name, v))
		}
	}

	return res
}

func removeIfExists(p string) (bool, error) {
	info, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, errors.Errorf("%s is a directory", p)
	}

	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		// 別のリクエストが先に消した
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// パスごとの結果
type PathDeleteResult struct {
	Path string `json:"path"`
	DeleteResult
}

// BatchDeleteResult は複数枚の削除結果の集計
type BatchDeleteResult struct {
	Success      bool               `json:"success"`
	TotalDeleted int                `json:"totalDeleted"`
	TotalErrors  int                `json:"totalErrors"`
	Results      []PathDeleteResult `json:"results"`
}

func (r BatchDeleteResult) Err() error {
	var all []string
	for _, pr := range r.Results {
		all = append(all, pr.Errors...)
	}
	return combine(all)
}

// DeleteMultipleProductImages は1件ずつ削除して集計する。1件の失敗で止めない。
func (m *Manager) DeleteMultipleProductImages(ctx context.Context, relativePaths []string) BatchDeleteResult {
	out := BatchDeleteResult{Success: true, Results: []PathDeleteResult{}}

	for _, p := range relativePaths {
		r := m.DeleteProductImage(ctx, p)
		out.Results = append(out.Results, PathDeleteResult{Path: p, DeleteResult: r})
		out.TotalDeleted += len(r.DeletedFiles)
		out.TotalErrors += len(r.Errors)
		if !r.Success {
			out.Success = false
		}
	}

	return out
}

func combine(msgs []string) error {
	var err error
	for _, msg := range msgs {
		err = multierr.Append(err, errors.New(msg))
	}
	return err
}

package imagestore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	errNoImagePath         = "no image path provided"
	errImageNotFound       = "image file does not exist"
	errNewPathRequired     = "New image path is required"
	errNewPathInvalid      = "Invalid new image path"
	errNewImageNotExist    = "New image file does not exist"
	errNewImageCheckFailed = "Failed to check new image"
)

// ExistsResult は存在確認の結果
type ExistsResult struct {
	Exists       bool   `json:"exists"`
	Filename     string `json:"filename,omitempty"`
	AbsolutePath string `json:"absolutePath,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ValidateImageExists は原本がディスクにあるかを確認する。
// 商品レコードを更新する前の事前チェックに使う。
func (m *Manager) ValidateImageExists(ctx context.Context, relativePath string) ExistsResult {
	if strings.TrimSpace(relativePath) == "" {
		return ExistsResult{Error: errNoImagePath}
	}

	name, ok := ExtractFilename(relativePath)
	if !ok {
		return ExistsResult{Error: errInvalidImagePath}
	}

	abs := m.AbsolutePath(name, VariantOriginal)
	res := ExistsResult{Filename: name, AbsolutePath: abs}

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		res.Error = errImageNotFound
		return res
	}
	if err != nil {
		res.Error = fmt.Sprintf("check image: %v", err)
		return res
	}
	if info.IsDir() {
		res.Error = errImageNotFound
		return res
	}

	res.Exists = true
	return res
}

// CleanupResult は古い画像の後始末の結果
type CleanupResult struct {
	Attempted    bool     `json:"attempted"`
	Success      bool     `json:"success"`
	DeletedFiles []string `json:"deletedFiles"`
	Errors       []string `json:"errors"`
}

// ReplaceResult は画像置き換えの結果
type ReplaceResult struct {
	Success         bool          `json:"success"`
	NewImagePath    string        `json:"newImagePath,omitempty"`
	OldImageCleanup CleanupResult `json:"oldImageCleanup"`
	Errors          []string      `json:"errors"`
}

// ReplaceProductImage は新しい画像を確認してから古い画像を削除する。
//
// 新しい画像が無ければ Success=false（呼び出し側はポインタを保存してはいけない）。
// 古い画像の削除に失敗しても Success は true のまま、Errors と OldImageCleanup に残る。
func (m *Manager) ReplaceProductImage(ctx context.Context, oldPath string, newPath string) ReplaceResult {
	res := ReplaceResult{
		OldImageCleanup: CleanupResult{DeletedFiles: []string{}, Errors: []string{}},
		Errors:          []string{},
	}

	if strings.TrimSpace(newPath) == "" {
		res.Errors = append(res.Errors, errNewPathRequired)
		return res
	}

	check := m.ValidateImageExists(ctx, newPath)
	switch {
	case check.Exists:
	case check.Error == errInvalidImagePath:
		res.Errors = append(res.Errors, errNewPathInvalid)
		return res
	case check.Error == errImageNotFound:
		res.Errors = append(res.Errors, errNewImageNotExist)
		return res
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", errNewImageCheckFailed, check.Error))
		return res
	}

	res.Success = true
	res.NewImagePath = newPath

	// 旧画像なし、または同じファイルを指すなら後始末しない
	if strings.TrimSpace(oldPath) == "" || SameImage(oldPath, newPath) {
		res.OldImageCleanup.Success = true
		return res
	}

	del := m.DeleteProductImage(ctx, oldPath)
	res.OldImageCleanup = CleanupResult{
		Attempted:    true,
		Success:      del.Success,
		DeletedFiles: del.DeletedFiles,
		Errors:       del.Errors,
	}
	res.Errors = append(res.Errors, del.Errors...)

	if !del.Success {
		m.logger.Warn("old product image left on disk",
			zap.String("old_path", oldPath),
			zap.String("new_path", newPath),
			zap.Error(del.Err()),
		)
	}

	return res
}

package imagestore

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Manager は商品画像（原本＋サムネイル）のディスク上のライフサイクルを扱う。
//
// 削除・置き換え・存在確認は error を返さず、結果の Errors に積む。
// 同じ商品への同時リクエストの直列化は呼び出し側の責務。
type Manager struct {
	publicDir      string
	thumbnailWidth int
	logger         *zap.Logger

	now        func() time.Time
	readRandom func([]byte)
}

type Options struct {
	// images/products を含む公開ディレクトリ
	PublicDir string
	// 0ならサムネイルを作らない
	ThumbnailWidth int
	Logger         *zap.Logger
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		publicDir:      opts.PublicDir,
		thumbnailWidth: opts.ThumbnailWidth,
		logger:         logger,
		now:            time.Now,
		readRandom: func(b []byte) {
			// crypto/rand.Read は失敗しない
			_, _ = rand.Read(b)
		},
	}
}

// EnsureDirectoriesExist は uploads/thumbnails を作る。何度呼んでもよい。
func (m *Manager) EnsureDirectoriesExist() error {
	for _, v := range []Variant{VariantOriginal, VariantThumbnail} {
		dir := filepath.Dir(m.AbsolutePath("x", v))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

// 保存済みの画像
type StoredImage struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	// サムネイルを作れなかったら空
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
}

// Save はアップロードされた内容を生成したファイル名で保存する。
// 種類・サイズのチェックは呼び出し側（アップロード層）で済んでいる前提。
func (m *Manager) Save(ctx context.Context, originalName string, r io.Reader) (StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return StoredImage{}, err
	}
	if err := m.EnsureDirectoriesExist(); err != nil {
		return StoredImage{}, err
	}

	filename := m.GenerateUniqueFilename(originalName)
	abs := m.AbsolutePath(filename, VariantOriginal)

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredImage{}, errors.Wrapf(err, "create %s", filename)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(abs)
		if copyErr != nil {
			return StoredImage{}, errors.Wrapf(copyErr, "write %s", filename)
		}
		return StoredImage{}, errors.Wrapf(closeErr, "close %s", filename)
	}

	out := StoredImage{
		Filename:     filename,
		RelativePath: RelativePath(filename, VariantOriginal),
		SizeBytes:    n,
	}

	if m.thumbnailWidth > 0 {
		if err := m.makeThumbnail(filename); err != nil {
			//サムネイルが無いのはエラーではない
			m.logger.Warn("thumbnail not created",
				zap.String("filename", filename),
				zap.Error(err),
			)
		} else {
			out.ThumbnailPath = RelativePath(filename, VariantThumbnail)
		}
	}

	return out, nil
}

func (m *Manager) makeThumbnail(filename string) error {
	img, err := imaging.Open(m.AbsolutePath(filename, VariantOriginal))
	if err != nil {
		return errors.Wrap(err, "decode original")
	}

	thumb := img
	if img.Bounds().Dx() > m.thumbnailWidth {
		thumb = imaging.Resize(img, m.thumbnailWidth, 0, imaging.Lanczos)
	}

	dst := m.AbsolutePath(filename, VariantThumbnail)
	if err := imaging.Save(thumb, dst); err != nil {
		_ = os.Remove(dst)
		return errors.Wrap(err, "encode thumbnail")
	}
	return nil
}

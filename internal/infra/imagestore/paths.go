package imagestore

import (
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Variant は同じ商品画像の物理的な種類
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantThumbnail Variant = "thumbnail"
)

// 商品画像の公開パスは必ずここから始まる
const BasePath = "/images/products/"

const (
	uploadsDir    = "uploads"
	thumbnailsDir = "thumbnails"

	maxStemLength = 40
	maxExtLength  = 10
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9.]`)
	dashRuns         = regexp.MustCompile(`-+`)
)

func variantDir(v Variant) string {
	if v == VariantThumbnail {
		return thumbnailsDir
	}
	return uploadsDir
}

// RelativePath は Web から参照するパス（DBに保存する値）
func RelativePath(filename string, v Variant) string {
	return BasePath + variantDir(v) + "/" + filename
}

// AbsolutePath はディスク上のパス。保存しない。
func (m *Manager) AbsolutePath(filename string, v Variant) string {
	return filepath.Join(m.publicDir, "images", "products", variantDir(v), filename)
}

// ExtractFilename は相対パスからファイル名を取り出す。
// BasePath + {uploads|thumbnails} + "/" + 名前 の形でないパスは ok=false。
func ExtractFilename(relativePath string) (string, bool) {
	if !strings.HasPrefix(relativePath, BasePath) {
		return "", false
	}
	if strings.Contains(relativePath, `\`) {
		return "", false
	}

	cleaned := path.Clean(relativePath)
	if !strings.HasPrefix(cleaned, BasePath) {
		return "", false
	}

	dir, name, ok := strings.Cut(strings.TrimPrefix(cleaned, BasePath), "/")
	if !ok || (dir != uploadsDir && dir != thumbnailsDir) {
		return "", false
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// SameImage は2つのパスが同じ画像ファイル（原本とサムネイルの組）を指すかを返す。
func SameImage(a, b string) bool {
	na, okA := ExtractFilename(a)
	nb, okB := ExtractFilename(b)
	return okA && okB && na == nb
}

// GenerateUniqueFilename は {ミリ秒}-{16桁hex}-{元の名前}{拡張子} を返す。
func (m *Manager) GenerateUniqueFilename(originalName string) string {
	base := path.Base(strings.ReplaceAll(originalName, `\`, "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	b := make([]byte, 8)
	m.readRandom(b)

	return fmt.Sprintf("%d-%s-%s%s", m.now().UnixMilli(), hex.EncodeToString(b), sanitizeStem(stem), sanitizeExt(ext))
}

func sanitizeName(s string) string {
	s = strings.ToLower(s)
	s = invalidNameChars.ReplaceAllString(s, "-")
	return dashRuns.ReplaceAllString(s, "-")
}

func sanitizeStem(stem string) string {
	s := sanitizeName(stem)
	// 置換後はASCIIだけなのでバイトで切ってよい
	if len(s) > maxStemLength {
		s = s[:maxStemLength]
	}
	if s == "" || s == "-" {
		return "image"
	}
	return s
}

func sanitizeExt(ext string) string {
	if ext == "" || ext == "." {
		return ""
	}
	s := "." + sanitizeName(strings.TrimPrefix(ext, "."))
	if len(s) > maxExtLength {
		return ""
	}
	return s
}

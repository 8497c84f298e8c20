package multimodal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/BaSui01/webjudge/types"
	"github.com/disintegration/imaging"
	// bmp / webp 解码器
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// StripDataURIPrefix removes a leading "data:image/...;base64," if present.
func StripDataURIPrefix(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ";base64,"); i >= 0 {
		return s[i+len(";base64,"):]
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// FixPadding appends '=' until len%4 == 0.
func FixPadding(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}

// DefaultMaxPixels 解码前允许的最大像素数（宽 × 高）。
const DefaultMaxPixels = 89_478_485

// DecodeBase64Image decodes a data URI or raw base64 string into a bitmap.
// Images declaring more than DefaultMaxPixels pixels are rejected before decoding.
func DecodeBase64Image(s string) (image.Image, error) {
	return decodeBase64(s, DefaultMaxPixels)
}

func decodeBase64(s string, maxPixels int) (image.Image, error) {
	payload := FixPadding(StripDataURIPrefix(s))
	if payload == "" {
		return nil, types.NewDecodeError("empty image payload", nil)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// 部分客户端使用 URL-safe 字母表
		var urlErr error
		raw, urlErr = base64.URLEncoding.DecodeString(payload)
		if urlErr != nil {
			return nil, types.NewDecodeError("invalid base64 payload", err)
		}
	}
	return decodeBytes(raw, maxPixels)
}

// decodeBytes 先读取图片头中的尺寸，超过 maxPixels 的图片不会进入像素解码。
func decodeBytes(raw []byte, maxPixels int) (image.Image, error) {
	if len(raw) == 0 {
		return nil, types.NewDecodeError("empty image payload", nil)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, types.NewDecodeError("unrecognized image format", err)
		}
		return nil, types.NewDecodeError("corrupt image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, types.NewDecodeError("image has no pixels", nil)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, types.NewDecodeError(
			fmt.Sprintf("image too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels), nil)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, types.NewDecodeError("unrecognized image format", err)
		}
		return nil, types.NewDecodeError("corrupt image data", err)
	}
	return img, nil
}

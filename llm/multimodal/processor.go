package multimodal

import (
	"encoding/base64"
	"image"
	"image/color"

	"github.com/BaSui01/webjudge/internal/pool"
	"github.com/BaSui01/webjudge/llm"
	"github.com/BaSui01/webjudge/types"
	"github.com/disintegration/imaging"
)

const (
	// DefaultJPEGQuality 与常见图像库的默认 JPEG 质量一致。
	DefaultJPEGQuality = 75
	// DefaultDetail 发送给视觉模型的图片细节级别。
	DefaultDetail = "high"
)

// VisionConfig 图片归一化配置.
type VisionConfig struct {
	JPEGQuality int    `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	Detail      string `yaml:"detail" env:"DETAIL"`
	// MaxDimension 大于 0 时按比例缩放，使最长边不超过该值。
	MaxDimension int `yaml:"max_dimension" env:"MAX_DIMENSION"`
	// MaxPixels 解码前的像素数上限（宽 × 高）。
	MaxPixels int `yaml:"max_pixels" env:"MAX_PIXELS"`
	// ReferenceDir 文件引用的解析根目录，为空时拒绝所有文件引用。
	ReferenceDir string `yaml:"reference_dir" env:"REFERENCE_DIR"`
	// MaxFileBytes 单个文件引用的字节上限。
	MaxFileBytes int64 `yaml:"max_file_bytes" env:"MAX_FILE_BYTES"`
}

// DefaultVisionConfig 返回默认配置.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		JPEGQuality:  DefaultJPEGQuality,
		Detail:       DefaultDetail,
		MaxPixels:    DefaultMaxPixels,
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Normalizer 将 ImageRef 转换为统一的真彩色位图与 JPEG data URI.
// 无状态，可并发使用。
type Normalizer struct {
	cfg VisionConfig
}

// NewNormalizer 创建归一化器，零值字段使用默认值.
func NewNormalizer(cfg VisionConfig) *Normalizer {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Detail == "" {
		cfg.Detail = DefaultDetail
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	return &Normalizer{cfg: cfg}
}

// Normalize decodes ref if needed and returns an opaque 8-bit RGB bitmap.
// Paletted, gray, CMYK, YCbCr and alpha images are all promoted; alpha is dropped, not composited.
func (n *Normalizer) Normalize(ref ImageRef) (*image.NRGBA, error) {
	img, err := n.decode(ref)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, types.NewDecodeError("image has no pixels", nil)
	}

	out := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.A = 0xff
		return c
	})
	if m := n.cfg.MaxDimension; m > 0 && (b.Dx() > m || b.Dy() > m) {
		out = imaging.Fit(out, m, m, imaging.Lanczos)
	}
	return out, nil
}

func (n *Normalizer) decode(ref ImageRef) (image.Image, error) {
	switch ref.kind {
	case RefBitmap:
		if ref.img == nil {
			return nil, types.NewDecodeError("nil bitmap", nil)
		}
		return ref.img, nil
	case RefEncoded:
		return decodeBase64(ref.encoded, n.cfg.MaxPixels)
	case RefFile:
		raw, err := n.readReference(ref.path)
		if err != nil {
			return nil, err
		}
		return decodeBytes(raw, n.cfg.MaxPixels)
	default:
		return nil, types.NewDecodeError("empty image reference", nil)
	}
}

// EncodeJPEGBase64 re-encodes img as JPEG and returns standard base64.
func (n *Normalizer) EncodeJPEGBase64(img image.Image) (string, error) {
	buf := pool.ImageBufferPool.Get()
	defer pool.ImageBufferPool.Put(buf)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(n.cfg.JPEGQuality)); err != nil {
		return "", types.NewDecodeError("jpeg encode failed", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Encode 归一化并返回 JPEG base64.
func (n *Normalizer) Encode(ref ImageRef) (string, error) {
	img, err := n.Normalize(ref)
	if err != nil {
		return "", err
	}
	return n.EncodeJPEGBase64(img)
}

// ImagePart 归一化 ref 并构造 image_url 消息片段.
func (n *Normalizer) ImagePart(ref ImageRef) (llm.ContentPart, error) {
	b64, err := n.Encode(ref)
	if err != nil {
		return llm.ContentPart{}, err
	}
	return llm.ImagePart(DataURI(b64), n.cfg.Detail), nil
}

// DataURI wraps JPEG base64 data in a data URI.
func DataURI(b64 string) string {
	return "data:image/jpeg;base64," + b64
}

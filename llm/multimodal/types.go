package multimodal

import (
	"fmt"
	"image"
)

// RefKind 标识 ImageRef 的载荷形式。
type RefKind int

const (
	RefBitmap RefKind = iota + 1
	RefEncoded
	RefFile
)

func (k RefKind) String() string {
	switch k {
	case RefBitmap:
		return "bitmap"
	case RefEncoded:
		return "encoded"
	case RefFile:
		return "file"
	default:
		return fmt.Sprintf("RefKind(%d)", int(k))
	}
}

// ImageRef holds exactly one image payload.
type ImageRef struct {
	kind    RefKind
	img     image.Image
	encoded string
	path    string
}

// FromImage wraps an in-memory bitmap.
func FromImage(img image.Image) ImageRef {
	return ImageRef{kind: RefBitmap, img: img}
}

// FromEncoded wraps a data URI or raw base64 string (padding optional).
func FromEncoded(s string) ImageRef {
	return ImageRef{kind: RefEncoded, encoded: s}
}

// FromFile wraps an image path relative to VisionConfig.ReferenceDir.
// The file is read lazily on Normalize.
func FromFile(path string) ImageRef {
	return ImageRef{kind: RefFile, path: path}
}

// Kind returns the payload form.
func (r ImageRef) Kind() RefKind { return r.kind }

// String 用于日志，不输出载荷本身。
func (r ImageRef) String() string {
	switch r.kind {
	case RefBitmap:
		if r.img == nil {
			return "bitmap(nil)"
		}
		b := r.img.Bounds()
		return fmt.Sprintf("bitmap(%dx%d)", b.Dx(), b.Dy())
	case RefEncoded:
		return fmt.Sprintf("encoded(%d bytes)", len(r.encoded))
	case RefFile:
		return "file(" + r.path + ")"
	default:
		return "empty"
	}
}

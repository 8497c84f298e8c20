package multimodal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BaSui01/webjudge/types"
)

// DefaultMaxFileBytes 单个参考图文件的默认字节上限。
const DefaultMaxFileBytes int64 = 20 << 20

// rejectReference 路径或文件不被允许读取，属于调用方错误。
func rejectReference(path, reason string) error {
	return types.NewError(types.ErrInvalidRequest,
		fmt.Sprintf("reference image %s: %s", path, reason)).
		WithHTTPStatus(http.StatusBadRequest)
}

// referenceName 把调用方给出的路径转换为 ReferenceDir 下的相对路径。
// 绝对路径只有位于 dir 之内才会被接受。
func referenceName(dir, path string) (string, error) {
	name := filepath.Clean(path)
	if filepath.IsAbs(name) {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", rejectReference(path, "reference directory is not resolvable")
		}
		rel, err := filepath.Rel(absDir, name)
		if err != nil {
			return "", rejectReference(path, "outside the reference directory")
		}
		name = rel
	}
	if !filepath.IsLocal(name) {
		return "", rejectReference(path, "outside the reference directory")
	}
	return name, nil
}

// readReference 读取 ReferenceDir 下的普通文件，最多 MaxFileBytes 字节。
// 通过 os.Root 打开，符号链接也无法逃出该目录。
func (n *Normalizer) readReference(path string) ([]byte, error) {
	if n.cfg.ReferenceDir == "" {
		return nil, rejectReference(path, "reference images are disabled")
	}
	name, err := referenceName(n.cfg.ReferenceDir, path)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(n.cfg.ReferenceDir)
	if err != nil {
		return nil, types.NewDecodeError("open reference directory", err)
	}
	defer root.Close()

	info, err := root.Stat(name)
	if err != nil {
		return nil, types.NewDecodeError(fmt.Sprintf("read image file %s", path), err)
	}
	if !info.Mode().IsRegular() {
		return nil, rejectReference(path, "not a regular file")
	}
	limit := n.cfg.MaxFileBytes
	if info.Size() > limit {
		return nil, rejectReference(path, fmt.Sprintf("larger than %d bytes", limit))
	}

	f, err := root.Open(name)
	if err != nil {
		return nil, types.NewDecodeError(fmt.Sprintf("read image file %s", path), err)
	}
	defer f.Close()

	// 文件可能在 Stat 之后增长
	raw, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, types.NewDecodeError(fmt.Sprintf("read image file %s", path), err)
	}
	if int64(len(raw)) > limit {
		return nil, rejectReference(path, fmt.Sprintf("larger than %d bytes", limit))
	}
	return raw, nil
}

package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Counter 返回文本的 token 数.
type Counter interface {
	CountTokens(text string) (int, error)
}

// ErrNotReady 编码表尚未加载完成.
var ErrNotReady = errors.New("tokenizer: encoding not loaded")

// =============================================================================
// 🔢 tiktoken
// =============================================================================

// EncodingForModel 返回模型对应的 tiktoken 编码名，未知模型使用 cl100k_base.
func EncodingForModel(model string) string {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return "o200k_base"
		}
	}
	return "cl100k_base"
}

// Tiktoken 基于 tiktoken 的精确计数器。
// 编码表首次使用可能需要下载（或读取 TIKTOKEN_CACHE_DIR），因此在 Load 中异步完成，
// 计数时不会阻塞。
type Tiktoken struct {
	encoding string
	enc      atomic.Pointer[tiktoken.Tiktoken]
	once     sync.Once
	loadErr  atomic.Value
}

// NewTiktoken 创建指定模型的计数器，不触发加载.
func NewTiktoken(model string) *Tiktoken {
	return &Tiktoken{encoding: EncodingForModel(model)}
}

// Encoding 返回编码名.
func (t *Tiktoken) Encoding() string { return t.encoding }

// Load 在后台加载编码表，只执行一次.
func (t *Tiktoken) Load(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.once.Do(func() {
		go func() {
			enc, err := tiktoken.GetEncoding(t.encoding)
			if err != nil {
				t.loadErr.Store(fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, err))
				logger.Warn("tiktoken encoding unavailable, using estimates",
					zap.String("encoding", t.encoding), zap.Error(err))
				return
			}
			t.enc.Store(enc)
			logger.Debug("tiktoken encoding loaded", zap.String("encoding", t.encoding))
		}()
	})
}

// CountTokens 编码表未就绪时返回 ErrNotReady 或加载错误.
func (t *Tiktoken) CountTokens(text string) (int, error) {
	enc := t.enc.Load()
	if enc == nil {
		if err, ok := t.loadErr.Load().(error); ok {
			return 0, err
		}
		return 0, ErrNotReady
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// =============================================================================
// 📏 字符估算
// =============================================================================

// Estimator 按字符数估算：CJK 约 1.5 字符/token，其余约 4 字符/token.
type Estimator struct{}

func (Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n, nil
}

// =============================================================================
// 🔁 回退
// =============================================================================

// Fallback 先用 Primary 计数，失败时改用 Secondary.
type Fallback struct {
	Primary   Counter
	Secondary Counter
}

func (f Fallback) CountTokens(text string) (int, error) {
	if f.Primary != nil {
		if n, err := f.Primary.CountTokens(text); err == nil {
			return n, nil
		}
	}
	if f.Secondary == nil {
		return Estimator{}.CountTokens(text)
	}
	return f.Secondary.CountTokens(text)
}

// ForModel 返回后台加载 tiktoken、就绪前使用估算的计数器.
func ForModel(model string, logger *zap.Logger) Counter {
	tk := NewTiktoken(model)
	tk.Load(logger)
	return Fallback{Primary: tk, Secondary: Estimator{}}
}

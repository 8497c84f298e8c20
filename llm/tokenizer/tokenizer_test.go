package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountTokens(string) (int, error) { return f.n, f.err }

func TestEncodingForModel(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"GPT-4.1":       "o200k_base",
		"o3-mini":       "o200k_base",
		"gpt-4":         "cl100k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"qwen-vl-max":   "cl100k_base",
		"":              "cl100k_base",
	}
	for model, want := range tests {
		assert.Equal(t, want, EncodingForModel(model), model)
	}
}

func TestTiktoken_NotLoaded(t *testing.T) {
	tk := NewTiktoken("gpt-4o")
	assert.Equal(t, "o200k_base", tk.Encoding())
	_, err := tk.CountTokens("hello")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEstimator(t *testing.T) {
	e := Estimator{}
	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, _ = e.CountTokens("abcdefgh")
	assert.Equal(t, 2, n)

	n, _ = e.CountTokens("点击购物车")
	assert.Equal(t, 3, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n)
}

func TestFallback(t *testing.T) {
	f := Fallback{Primary: fixedCounter{n: 7}, Secondary: fixedCounter{n: 99}}
	n, err := f.CountTokens("x")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	f.Primary = fixedCounter{err: errors.New("boom")}
	n, err = f.CountTokens("x")
	require.NoError(t, err)
	assert.Equal(t, 99, n)

	n, err = Fallback{Primary: NewTiktoken("gpt-4o")}.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// Property: 估算值单调，拼接后的 token 数不小于任一部分
func TestProperty_EstimatorMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		na, _ := Estimator{}.CountTokens(a)
		nab, _ := Estimator{}.CountTokens(a + b)
		if nab < na {
			t.Fatalf("count(%q)=%d < count(%q)=%d", a+b, nab, a, na)
		}
	})
}

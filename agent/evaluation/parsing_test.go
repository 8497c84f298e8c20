package evaluation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// =============================================================================
// 🎯 分数与理由解析
// =============================================================================

func TestParseScore(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{"formatted", "### Reasoning: ok ### Score: 4", 4},
		{"no digit", "no score here", 0},
		{"out of range digits only", "### Score: 0 or 9", 0},
		{"last in range wins", "123", 3},
		{"digits in reasoning", "### Reasoning: step 2 of 5 done\n### Score: 1", 1},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScore(tt.response))
		})
	}
}

func TestParseRationale(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"both markers", "### Reasoning: ok ### Score: 4", "ok"},
		{"multiline", "### Reasoning:\nline one\nline two\n### Score: 2", "line one line two"},
		{"no markers", "  just text\nhere ", "just text here"},
		{"only reasoning marker", "### Reasoning: dangling", "### Reasoning: dangling"},
		{"last reasoning marker", "### Reasoning: a ### Reasoning: b ### Score: 3", "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRationale(tt.response))
		})
	}
}

// =============================================================================
// 🏷️ 标签解析
// =============================================================================

func TestExtractLabel(t *testing.T) {
	tests := []struct {
		response string
		want     int
	}{
		{"Thoughts: done. Status: success", 1},
		{"Thoughts: nope. Status: failure", 0},
		{"Thoughts: no marker at all, success", 0},
		{"STATUS: \"SUCCESS\"", 1},
		{"Status: failure. Later status: success", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractLabel(tt.response), tt.response)
	}
}

func TestProperty_ExtractLabelIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		first := ExtractLabel(text)
		if first != 0 && first != 1 {
			rt.Fatalf("label %d outside {0,1}", first)
		}
		if again := ExtractLabel(text); again != first {
			rt.Fatalf("label changed from %d to %d", first, again)
		}
	})
}

func TestProperty_ParseScoreInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score is 0 or 1..5", prop.ForAll(
		func(s string) bool {
			score := ParseScore(s)
			return score >= 0 && score <= 5
		},
		gen.AnyString(),
	))

	properties.Property("formatted score round trips", prop.ForAll(
		func(reasoning string, score int) bool {
			reasoning = strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return -1
				}
				return r
			}, reasoning)
			return ParseScore(fmt.Sprintf("### Reasoning: %s\n### Score: %d", reasoning, score)) == score
		},
		gen.AlphaString(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// =============================================================================
// 🧮 证据过滤
// =============================================================================

func recordsWithScores(scores ...int) []JudgeRecord {
	out := make([]JudgeRecord, len(scores))
	for i, s := range scores {
		out[i] = JudgeRecord{
			ScreenshotIndex: i,
			Score:           s,
			Rationale:       fmt.Sprintf("r%d", i),
			ImageURI:        fmt.Sprintf("data:image/jpeg;base64,img%d", i),
		}
	}
	return out
}

func TestFilterEvidence_Threshold(t *testing.T) {
	records := recordsWithScores(5, 1, 4, 2, 3, 5, 0, 3, 4, 2)

	bundle := FilterEvidence(records, 3, 50)

	require.Len(t, bundle.Records, 6)
	var idx []int
	for _, r := range bundle.Records {
		idx = append(idx, r.ScreenshotIndex)
	}
	assert.Equal(t, []int{0, 2, 4, 5, 7, 8}, idx)
	assert.Len(t, bundle.Images, 6)
	assert.Equal(t, []string{"r0", "r2", "r4", "r5", "r7", "r8"}, bundle.Rationales())
}

func TestFilterEvidence_Cap(t *testing.T) {
	scores := make([]int, 60)
	for i := range scores {
		scores[i] = 4
	}

	bundle := FilterEvidence(recordsWithScores(scores...), 3, 0)

	require.Len(t, bundle.Records, DefaultMaxEvidence)
	for i, r := range bundle.Records {
		assert.Equal(t, i, r.ScreenshotIndex)
	}
}

func TestFilterEvidence_DegradedRecordHasNoImage(t *testing.T) {
	records := []JudgeRecord{{ScreenshotIndex: 0, Score: 0, Err: "bad"}}
	bundle := FilterEvidence(records, 0, 10)

	assert.Len(t, bundle.Records, 1)
	assert.Empty(t, bundle.Images)
}

func TestProperty_FilterEvidence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		scores := rapid.SliceOf(rapid.IntRange(0, 5)).Draw(rt, "scores")
		threshold := rapid.IntRange(1, 5).Draw(rt, "threshold")
		max := rapid.IntRange(1, 20).Draw(rt, "max")

		bundle := FilterEvidence(recordsWithScores(scores...), threshold, max)

		if len(bundle.Records) > max {
			rt.Fatalf("bundle size %d exceeds max %d", len(bundle.Records), max)
		}
		prev := -1
		for _, r := range bundle.Records {
			if r.Score < threshold {
				rt.Fatalf("record %d below threshold", r.ScreenshotIndex)
			}
			if r.ScreenshotIndex <= prev {
				rt.Fatalf("order not preserved")
			}
			prev = r.ScreenshotIndex
		}
	})
}

// =============================================================================
// 📝 关键点与结论提示词
// =============================================================================

func TestKeyPointsText(t *testing.T) {
	assert.Equal(t, "1. a\n2. b", KeyPointsText("Here you go.\nKey Points:\n1. a\n2. b\n"))
	assert.Equal(t, "x", KeyPointsText("Key Points: ignored\nKey Points: x"))
	assert.Equal(t, "no label at all", KeyPointsText("  no label at all \n"))
}

func TestSplitKeyPoints(t *testing.T) {
	got := SplitKeyPoints("1. Add a shirt\n\n2) Color is blue\n- Size M\n* in cart")
	assert.Equal(t, []string{"Add a shirt", "Color is blue", "Size M", "in cart"}, got)
	assert.Empty(t, SplitKeyPoints("  \n "))
}

func TestBuildVerdictPrompt(t *testing.T) {
	prompt := BuildVerdictPrompt("Buy milk", "1. milk", []string{"open shop", "click buy"}, []string{"cart shows milk"}, "")

	assert.Equal(t, "User Task: Buy milk\n"+
		"Key Points: 1. milk\n"+
		"Action History:\n1. open shop\n2. click buy\n"+
		"Thoughts from relevant images:\n1. cart shows milk", prompt)

	withFinal := BuildVerdictPrompt("t", "k", nil, nil, "Order placed")
	assert.True(t, strings.HasSuffix(withFinal, "\nFinal Result: Order placed"))
}

func TestBuildVerdictPrompt_OmittedHistoryKeepsNumbering(t *testing.T) {
	prompt := buildVerdictPrompt("t", "k", []string{"c", "d"}, 2, []string{"r"}, "")
	assert.Contains(t, prompt, "Action History:\n(2 earlier actions omitted)\n3. c\n4. d\n")
	assert.Contains(t, prompt, "Thoughts from relevant images:\n1. r")
}

// tokensPerChar 每个字符算一个 token 的计数器
type tokensPerChar struct{}

func (tokensPerChar) CountTokens(s string) (int, error) { return len(s), nil }

func TestTrimHistory(t *testing.T) {
	actions := []string{"aaaa", "bbbb", "cccc", "dddd"}

	tests := []struct {
		name        string
		counter     tokensPerChar
		max         int
		wantKept    []string
		wantOmitted int
	}{
		{"unlimited", tokensPerChar{}, 0, actions, 0},
		{"fits", tokensPerChar{}, 24, actions, 0},
		{"keeps newest", tokensPerChar{}, 12, []string{"cccc", "dddd"}, 2},
		{"newest too long", tokensPerChar{}, 5, []string{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, omitted := TrimHistory(tt.counter, actions, tt.max)
			assert.Equal(t, tt.wantKept, kept)
			assert.Equal(t, tt.wantOmitted, omitted)
		})
	}

	kept, omitted := TrimHistory(nil, actions, 1)
	assert.Equal(t, actions, kept)
	assert.Zero(t, omitted)
}

// Property: 截断只丢弃最早的动作，保留部分是原历史的后缀
func TestProperty_TrimHistoryKeepsSuffix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		actions := rapid.SliceOf(rapid.StringN(0, 20, -1)).Draw(t, "actions")
		budget := rapid.IntRange(1, 200).Draw(t, "budget")

		kept, omitted := TrimHistory(tokensPerChar{}, actions, budget)
		if omitted+len(kept) != len(actions) {
			t.Fatalf("omitted %d + kept %d != %d", omitted, len(kept), len(actions))
		}
		for i, a := range kept {
			if actions[omitted+i] != a {
				t.Fatalf("kept[%d]=%q, want %q", i, a, actions[omitted+i])
			}
		}
		used := 0
		for _, a := range kept {
			used += len(a) + 2
		}
		if used > budget {
			t.Fatalf("kept %d tokens, budget %d", used, budget)
		}
	})
}

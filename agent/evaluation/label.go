package evaluation

import "strings"

// statusMarker 结论文本中状态行的标记（小写比较）
const statusMarker = "status:"

// ExtractLabel returns 1 when the text after the first "status:" marker
// (case-insensitive) contains "success", else 0. It never panics.
//
// 这是判断任务是否成功的唯一依据，下游不应自行解析结论文本。
func ExtractLabel(response string) (label int) {
	defer func() {
		if recover() != nil {
			label = 0
		}
	}()

	parts := strings.Split(strings.ToLower(response), statusMarker)
	if len(parts) < 2 {
		return 0
	}
	if strings.Contains(parts[1], "success") {
		return 1
	}
	return 0
}

package intent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reFence       = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
	reSingleKey   = regexp.MustCompile(`([{,]\s*)'([^']+)'\s*:`)
	reSingleValue = regexp.MustCompile(`:\s*'([^']*)'(\s*[},\]])`)
)

// normalizeModelJSON 容忍补全模型常见的 JSON 输出瑕疵：
// 代码块围栏、首尾引号、单引号键值。归一化后仍不是合法 JSON 时返回解码错误。
func normalizeModelJSON(raw string, out any) error {
	s := strings.TrimSpace(raw)
	if m := reFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = strings.Trim(s, "\"'")
	s = reSingleKey.ReplaceAllString(s, `$1"$2":`)
	s = reSingleValue.ReplaceAllString(s, `: "$1"$2`)
	return json.Unmarshal([]byte(s), out)
}

// Package security は入力文字列のサニタイズ機能を提供する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はタグの除去で新たに組み上がったタグを除去するための最大反復回数。
const maxSanitizePasses = 8

// Sanitizer はリクエストの文字列値からHTMLを取り除く。
// bluemondayのStrictPolicyを保持し、複数のgoroutineから同時に利用できる。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
// StrictPolicyはすべてのタグを除去し、scriptとstyleは中身ごと除去する。
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeString はscriptブロックと完結したHTMLタグを除去し、前後の空白を取り除く。
// 閉じる">"のない"<"や、入力に書かれたエンティティ("&amp;"など)は文字としてそのまま残す。
// "<<b>b>"のようにタグの除去で組み上がったタグも、変化がなくなるまで繰り返し除去する。
func (s *Sanitizer) SanitizeString(in string) string {
	cur := in
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.stripTags(cur)
		if next == cur {
			return strings.TrimSpace(next)
		}
		cur = next
	}
	// 収束しない入力はエスケープしたまま返す
	return strings.TrimSpace(html.EscapeString(cur))
}

// stripTags はタグを1回除去する。タグを含まない文字列はそのまま返る。
// bluemondayはテキストをエスケープして出力するため、事前に"&"と孤立した"<"をエスケープし、
// 出力を1回だけアンエスケープして入力の文字に戻す。
func (s *Sanitizer) stripTags(in string) string {
	return html.UnescapeString(s.policy.Sanitize(escapeText(in)))
}

// escapeText は"&"と、後ろに">"が現れない"<"をエスケープする。
// 後ろに">"がある"<"はタグの開始としてトークナイザーに渡す。
func escapeText(in string) string {
	lastGT := strings.LastIndexByte(in, '>')
	var b strings.Builder
	b.Grow(len(in))
	for i := 0; i < len(in); i++ {
		switch c := in[i]; {
		case c == '&':
			b.WriteString("&amp;")
		case c == '<' && i > lastGT:
			b.WriteString("&lt;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SanitizeValue はJSONから復元した値を再帰的にサニタイズする。
// map[string]anyと[]anyは要素ごとに処理し、文字列以外の値はそのまま返す。
func (s *Sanitizer) SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case map[string]any:
		for k, elem := range val {
			val[k] = s.SanitizeValue(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = s.SanitizeValue(elem)
		}
		return val
	default:
		return v
	}
}

// SanitizeQuery はクエリパラメータの全値をサニタイズした新しいurl.Valuesを返す。
func (s *Sanitizer) SanitizeQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		cleaned := make([]string, len(vs))
		for i, v := range vs {
			cleaned[i] = s.SanitizeString(v)
		}
		out[k] = cleaned
	}
	return out
}

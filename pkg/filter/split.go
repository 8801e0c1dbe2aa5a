package filter

import "strings"

const (
	listDelimiter = ','
	listEscape    = '\\'
)

// SplitList splits an administrator-entered list on unescaped commas.
// "\," is a literal comma. Entries are trimmed and empty entries dropped.
func SplitList(raw string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if entry := strings.TrimSpace(current.String()); entry != "" {
			out = append(out, entry)
		}
		current.Reset()
	}
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == listEscape && i+1 < len(runes) && runes[i+1] == listDelimiter {
			current.WriteRune(listDelimiter)
			i++
			continue
		}
		if r == listDelimiter {
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

// JoinList is the inverse of SplitList: commas inside entries are escaped.
func JoinList(entries []string) string {
	escaped := make([]string, 0, len(entries))
	for _, e := range entries {
		escaped = append(escaped, strings.ReplaceAll(e, string(listDelimiter), `\,`))
	}
	return strings.Join(escaped, ",")
}

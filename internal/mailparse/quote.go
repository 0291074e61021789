package mailparse

import "strings"

// SplitQuoted separates a trailing block of ">" quoted reply text, with its
// "On ... wrote:" attribution, from the new content above it. Quotes
// interleaved with new text stay in content.
func SplitQuoted(body string) (content, quote string) {
	lines := strings.Split(normalizeNewlines(body), "\n")

	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end
	for start > 0 {
		line := strings.TrimSpace(lines[start-1])
		if !strings.HasPrefix(line, ">") && line != "" {
			break
		}
		start--
	}
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == end {
		return strings.TrimSpace(body), ""
	}

	quoted := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		line = strings.TrimPrefix(strings.TrimSpace(line), ">")
		quoted = append(quoted, strings.TrimPrefix(line, " "))
	}

	head := lines[:start]
	for len(head) > 0 && strings.TrimSpace(head[len(head)-1]) == "" {
		head = head[:len(head)-1]
	}
	if len(head) > 0 && strings.HasSuffix(strings.TrimSpace(head[len(head)-1]), "wrote:") {
		head = head[:len(head)-1]
	}

	return strings.TrimSpace(strings.Join(head, "\n")), strings.Join(quoted, "\n")
}

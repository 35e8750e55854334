package corpus

import "strings"

// SplitText slices text into fixed-size windows for chunk storage. Each
// window after the first begins overlapChars before the previous window's
// end, and window boundaries back up to the nearest whitespace when one is
// close, so sentences are rarely cut mid-word.
func SplitText(text string, chunkChars, overlapChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkChars <= 0 {
		chunkChars = 1600
	}
	if overlapChars < 0 || overlapChars >= chunkChars {
		overlapChars = chunkChars / 8
	}
	if len(text) <= chunkChars {
		return []string{text}
	}

	var chunks []string
	step := chunkChars - overlapChars
	for start := 0; start < len(text); start += step {
		end := start + chunkChars
		if end >= len(text) {
			if tail := strings.TrimSpace(text[start:]); tail != "" {
				chunks = append(chunks, tail)
			}
			break
		}
		// Never back up past the next window's start, or content between
		// the windows would be lost.
		end = backupToSpace(text, start+step, end)
		chunks = append(chunks, strings.TrimSpace(text[start:end]))
	}
	return chunks
}

// backupToSpace moves end left to the nearest whitespace within a small
// window, keeping the original position when none is found.
func backupToSpace(text string, minEnd, end int) int {
	limit := end - 64
	if limit < minEnd {
		limit = minEnd
	}
	for i := end; i > limit; i-- {
		switch text[i-1] {
		case ' ', '\n', '\t':
			return i
		}
	}
	return end
}

package orchestrator

import "strings"

// chunkText splits text into overlapping windows of targetTokens words,
// stepping forward by (targetTokens - overlapTokens) words per chunk.
// Word count is the same whitespace-delimited notion Search uses for
// budgeting. A targetTokens <= overlapTokens would never advance, so the
// step is floored at 1.
func chunkText(text string, targetTokens, overlapTokens int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if targetTokens <= 0 {
		targetTokens = len(words)
	}
	step := targetTokens - overlapTokens
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + targetTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

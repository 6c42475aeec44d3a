package enrich

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// Bodies at or under this length embed as a single piece; chunking noise
	// on short emails hurts recall more than it helps.
	ChunkThresholdChars = 5000

	ChunkSizeChars    = 3200
	ChunkOverlapChars = 400
)

// SplitBody cuts an email body into overlapping chunks along natural
// boundaries. Short bodies come back as a single chunk.
func SplitBody(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	if len(body) <= ChunkThresholdChars {
		return []string{body}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSizeChars),
		textsplitter.WithChunkOverlap(ChunkOverlapChars),
	)
	chunks, err := splitter.SplitText(body)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

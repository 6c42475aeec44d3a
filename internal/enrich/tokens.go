package enrich

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// MaxInputTokens is the hard ceiling on tokens handed to any model call.
const MaxInputTokens = 32000

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func tokenEncoder() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return nil, fmt.Errorf("load token encoding: %w", encodingErr)
	}
	return encoding, nil
}

func CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := tokenEncoder()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// OverTokenBudget reports whether text exceeds MaxInputTokens.
func OverTokenBudget(text string) (bool, error) {
	n, err := CountTokens(text)
	if err != nil {
		return false, err
	}
	return n > MaxInputTokens, nil
}

package llm

import (
	"github.com/tiktoken-go/tokenizer"
)

// truncator clips prompt inputs to a token budget so long articles never
// blow the model's context window.
type truncator struct {
	codec     tokenizer.Codec
	maxTokens int
}

func newTruncator(maxTokens int) (*truncator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &truncator{codec: codec, maxTokens: maxTokens}, nil
}

// clip returns text cut to at most maxTokens tokens. Zero or negative budget
// disables clipping.
func (t *truncator) clip(text string) string {
	if t.maxTokens <= 0 {
		return text
	}

	ids, _, err := t.codec.Encode(text)
	if err != nil || len(ids) <= t.maxTokens {
		return text
	}

	clipped, err := t.codec.Decode(ids[:t.maxTokens])
	if err != nil {
		return text
	}
	return clipped
}

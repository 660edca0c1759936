// Package tokens keeps text sent back to the model inside a token ceiling.
package tokens

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Embedded BPE ranks; no download at first use.
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
}

// Encoder counts model tokens in a text.
type Encoder interface {
	Count(text string) int
}

type tiktokenEncoder struct {
	tkm *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Count(text string) int {
	return len(e.tkm.Encode(text, nil, nil))
}

var (
	encodersMu sync.Mutex
	encoders   = map[string]Encoder{}
)

// EncoderForModel returns the tokenizer of model. Reasoning models share the
// gpt-4o encoding and unknown models fall back to cl100k_base.
func EncoderForModel(model string) (Encoder, error) {
	name := encodingModel(model)

	encodersMu.Lock()
	defer encodersMu.Unlock()
	if enc, ok := encoders[name]; ok {
		return enc, nil
	}

	tkm, err := tiktoken.EncodingForModel(name)
	if err != nil {
		tkm, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, fmt.Errorf("encoding for model %s: %w", model, err)
		}
	}
	enc := tiktokenEncoder{tkm: tkm}
	encoders[name] = enc
	return enc, nil
}

func encodingModel(model string) string {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") {
		return "gpt-4o"
	}
	return m
}

// Truncate returns the longest prefix of text, obtained by repeatedly halving
// its character length, that encodes to at most max tokens. The cut lands on
// a rune boundary so the result stays valid UTF-8.
func Truncate(text string, enc Encoder, max int) string {
	for text != "" && enc.Count(text) > max {
		n := len(text) / 2
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return text
}

// Budget is a token ceiling bound to a tokenizer.
type Budget struct {
	Encoder Encoder
	Max     int
}

// Apply truncates text to the budget. A zero Budget passes text through.
func (b Budget) Apply(text string) (string, bool) {
	if b.Encoder == nil || b.Max <= 0 {
		return text, false
	}
	out := Truncate(text, b.Encoder, b.Max)
	return out, len(out) != len(text)
}

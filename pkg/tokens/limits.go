package tokens

import "strings"

var tokenLimitsPerModel = map[string]int{
	"gpt-3.5-turbo":      4096,
	"gpt-3.5-turbo-0301": 4096,
	"gpt-3.5-turbo-16k":  16385,
	"gpt-3.5-turbo-1106": 16385,
	"gpt-4":              8192,
	"gpt-4-0613":         8192,
	"gpt-4-32k":          32768,
	"gpt-4-turbo":        128000,
	"gpt-4o":             128000,
	"gpt-4o-mini":        128000,
	"gpt-4.1":            1047576,
	"gpt-4.1-mini":       1047576,
	"o1":                 200000,
	"o1-mini":            128000,
	"o3":                 200000,
	"o3-mini":            200000,
	"o4-mini":            200000,
}

// DefaultTokenLimit applies to models missing from the table.
const DefaultTokenLimit = 8192

// LimitForModel returns the context window of model.
func LimitForModel(model string) int {
	if limit, ok := tokenLimitsPerModel[strings.ToLower(model)]; ok {
		return limit
	}
	return DefaultTokenLimit
}

const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// CountMessages estimates the prompt size of a chat transcript. fields
// returns the role and content of a message.
func CountMessages[M any](msgs []M, fields func(M) (role, content string), enc Encoder) int {
	n := tokensPerReply
	for _, m := range msgs {
		role, content := fields(m)
		n += tokensPerMessage + enc.Count(role) + enc.Count(content)
	}
	return n
}

// ConstrictMessages drops history until the transcript fits limit. It first
// keeps only the first (system) and the latest message, then only the first.
func ConstrictMessages[M any](msgs []M, fields func(M) (role, content string), enc Encoder, limit int) []M {
	for len(msgs) > 1 && CountMessages(msgs, fields, enc) > limit {
		if len(msgs) > 2 {
			msgs = []M{msgs[0], msgs[len(msgs)-1]}
			continue
		}
		msgs = msgs[:1]
	}
	return msgs
}

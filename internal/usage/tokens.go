package usage

import (
	"github.com/pkoukk/tiktoken-go"
)

// CountPromptTokens uses tiktoken-go to estimate the token count of prompt
// text. Upstream models vary; the cl100k_base encoding is a close enough
// proxy for accounting purposes.
func CountPromptTokens(text string) (int, error) {
	tk, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	return len(tk.Encode(text, nil, nil)), nil
}

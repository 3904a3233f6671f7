package sdruntime

import (
	"fmt"
	"strings"
)

// ValidatePrompt rejects prompts the C API cannot take. An empty prompt is
// fine and generates unconditionally.
func ValidatePrompt(prompt string) error {
	if i := strings.IndexByte(prompt, 0); i >= 0 {
		return fmt.Errorf("%w: NUL byte at offset %d", ErrInvalidPrompt, i)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}
	return nil
}

// SanitizePrompt folds every whitespace run, line breaks from the text
// area included, into one space and trims the ends.
func SanitizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

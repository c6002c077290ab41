package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/homefix/messenger/internal/apperr"
)

const (
	MaxContentBytes = 4096 // largest body the relay accepts
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks outgoing message text and returns it trimmed.
func ValidateContent(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", apperr.InvalidArg("message contains invalid UTF-8")
	}
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", apperr.InvalidArg("message text is empty")
	}
	if len(text) > MaxContentBytes {
		return "", apperr.InvalidArg(fmt.Sprintf("message exceeds %d byte limit", MaxContentBytes))
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return "", apperr.InvalidArg(fmt.Sprintf("message exceeds %d character limit", MaxContentChars))
	}
	return text, nil
}

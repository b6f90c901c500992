package extraction

import (
	"strings"
	"unicode"
)

// ConfirmAnswer is the interpretation of a reply to the order summary.
type ConfirmAnswer int

const (
	ConfirmUnclear ConfirmAnswer = iota
	ConfirmYes
	ConfirmNo
)

var yesWords = map[string]struct{}{
	"yes": {}, "yep": {}, "yeah": {}, "confirm": {}, "correct": {},
	"ok": {}, "okay": {}, "sure": {},
	"да": {}, "ага": {}, "верно": {}, "подтверждаю": {}, "хорошо": {},
}

var noWords = map[string]struct{}{
	"no": {}, "nope": {}, "change": {}, "wrong": {}, "edit": {}, "not": {},
	"нет": {}, "неверно": {}, "изменить": {}, "поменять": {},
}

// DetectConfirmation interprets a confirm-step reply without an LLM call.
// A yes/no to a direct question is cheap to classify locally; anything
// ambiguous re-prompts. Matching is on whole words, so "another" never
// reads as "not". A negation word anywhere wins over a leading yes, which
// routes "yes, but change the time" into the correction flow.
func DetectConfirmation(text string) ConfirmAnswer {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return ConfirmUnclear
	}
	for _, w := range words {
		if _, ok := noWords[w]; ok {
			return ConfirmNo
		}
	}
	for _, w := range words {
		if _, ok := yesWords[w]; ok {
			return ConfirmYes
		}
	}
	return ConfirmUnclear
}

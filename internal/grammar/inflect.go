package grammar

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// thirdPersonIrregular covers verbs whose -s form is not regular.
var thirdPersonIrregular = map[string]string{
	"have": "has",
	"do":   "does",
	"go":   "goes",
	"be":   "is",
}

// thirdPersonToBase is the inverse of thirdPersonIrregular.
var thirdPersonToBase = map[string]string{
	"has":  "have",
	"does": "do",
	"goes": "go",
	"is":   "be",
}

// pastToBase maps the simple past forms that follow "didn't" in learner
// speech to their base form.
var pastToBase = map[string]string{
	"went":    "go",
	"had":     "have",
	"was":     "be",
	"were":    "be",
	"did":     "do",
	"saw":     "see",
	"came":    "come",
	"made":    "make",
	"took":    "take",
	"got":     "get",
	"said":    "say",
	"ate":     "eat",
	"bought":  "buy",
	"wrote":   "write",
	"gave":    "give",
	"knew":    "know",
	"thought": "think",
	"told":    "tell",
	"found":   "find",
	"left":    "leave",
}

// thirdPerson returns the present-simple third person singular form of verb.
func thirdPerson(verb string) string {
	v := strings.ToLower(verb)
	if irr, ok := thirdPersonIrregular[v]; ok {
		return irr
	}
	switch {
	case strings.HasSuffix(v, "y") && len(v) > 1 && !isVowel(v[len(v)-2]):
		return v[:len(v)-1] + "ies"
	case strings.HasSuffix(v, "s"), strings.HasSuffix(v, "sh"),
		strings.HasSuffix(v, "ch"), strings.HasSuffix(v, "x"),
		strings.HasSuffix(v, "z"), strings.HasSuffix(v, "o"):
		return v + "es"
	}
	return v + "s"
}

// baseFromThirdPerson strips the third person -s from verb.
func baseFromThirdPerson(verb string) string {
	v := strings.ToLower(verb)
	if base, ok := thirdPersonToBase[v]; ok {
		return base
	}
	switch {
	case strings.HasSuffix(v, "ies") && len(v) > 3:
		return v[:len(v)-3] + "y"
	case strings.HasSuffix(v, "shes"), strings.HasSuffix(v, "ches"),
		strings.HasSuffix(v, "xes"), strings.HasSuffix(v, "sses"),
		strings.HasSuffix(v, "zes"), strings.HasSuffix(v, "oes"):
		return v[:len(v)-2]
	case strings.HasSuffix(v, "s") && len(v) > 1:
		return v[:len(v)-1]
	}
	return v
}

// baseFromPast returns the base form for a simple past verb, or the verb
// itself when it is unknown.
func baseFromPast(verb string) string {
	if base, ok := pastToBase[strings.ToLower(verb)]; ok {
		return base
	}
	return strings.ToLower(verb)
}

// matchCase gives repl the capitalisation of src: all caps when src is an
// all-caps word of more than one letter, a capital first letter when src
// starts with one, lower case otherwise.
func matchCase(src, repl string) string {
	if src == "" || repl == "" {
		return repl
	}
	if utf8.RuneCountInString(src) > 1 && strings.ToUpper(src) == src && strings.ToLower(src) != src {
		return strings.ToUpper(repl)
	}
	first, _ := utf8.DecodeRuneInString(src)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(repl)
		return string(unicode.ToUpper(r)) + repl[size:]
	}
	return strings.ToLower(repl)
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// Package spoken turns recognized French dictation into numbers.
//
// Normalize maps number words and spoken punctuation onto digits, ParsePhrase
// reads one phrase (including the "et demi" suffix) and Splitter cuts a stream
// of utterances into phrases on the spoken conjunction.
package spoken

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// numberWords is keyed by the accent-folded spelling.
var numberWords = map[string]string{
	"zero":     "0",
	"un":       "1",
	"deux":     "2",
	"trois":    "3",
	"quatre":   "4",
	"cinq":     "5",
	"six":      "6",
	"sept":     "7",
	"huit":     "8",
	"neuf":     "9",
	"dix":      "10",
	"onze":     "11",
	"douze":    "12",
	"treize":   "13",
	"quatorze": "14",
	"quinze":   "15",
	"seize":    "16",
	// recognizer homophones
	"de": "2",
	"en": "1",
}

const decimalWord = "point"

var (
	spaceAroundDot = regexp.MustCompile(`\s*\.\s*`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Normalize rewrites raw utterance text into a numeric token string. Number
// words are replaced on whole-word boundaries, ',' and "point" become '.',
// whitespace around '.' is dropped and one trailing '.' is stripped.
// Text that does not describe a number comes back normalized but unparseable.
func Normalize(text string) string {
	s := strings.ToLower(norm.NFC.String(strings.TrimSpace(text)))
	s = strings.ReplaceAll(s, ",", ".")
	s = replaceWords(s)
	s = spaceAroundDot.ReplaceAllString(s, ".")
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	return strings.TrimSuffix(s, ".")
}

// replaceWords substitutes every maximal run of letters found in the
// vocabulary. Runs that are not vocabulary words are copied unchanged.
func replaceWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		w := string(word)
		folded := fold(w)
		switch {
		case folded == decimalWord:
			b.WriteByte('.')
		case numberWords[folded] != "":
			b.WriteString(numberWords[folded])
		default:
			b.WriteString(w)
		}
		word = word[:0]
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			word = append(word, r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

// fold strips combining marks so "zéro" and "zero" share a key. Chained
// transformers carry state, so one is built per call.
func fold(word string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, word)
	if err != nil {
		return word
	}
	return out
}

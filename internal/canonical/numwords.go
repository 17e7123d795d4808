package canonical

import (
	"regexp"
	"strconv"
	"strings"
)

var ones = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func numberTokens(phrase string) []string {
	phrase = strings.ToLower(phrase)
	phrase = nonWord.ReplaceAllString(phrase, " ")
	return strings.Fields(phrase)
}

// leadingNumber parses a 0..99 number-word group at the start of tokens.
// It returns the value and how many tokens it consumed; 0 consumed means no number.
func leadingNumber(tokens []string) (int, int) {
	if len(tokens) == 0 {
		return 0, 0
	}
	if n, ok := ones[tokens[0]]; ok {
		return n, 1
	}
	n, ok := tens[tokens[0]]
	if !ok {
		return 0, 0
	}
	if len(tokens) > 1 {
		if unit, ok := ones[tokens[1]]; ok && unit > 0 && unit < 10 {
			return n + unit, 2
		}
	}
	return n, 1
}

// WordsToNumber parses "twenty-four", "nineteen" or "7" into 0..99. Trailing
// words that are not numbers are ignored.
func WordsToNumber(phrase string) (int, bool) {
	tokens := numberTokens(phrase)
	if len(tokens) == 0 {
		return 0, false
	}
	if n, err := strconv.Atoi(tokens[0]); err == nil {
		return n, true
	}
	n, used := leadingNumber(tokens)
	return n, used > 0
}

// YearFromWords parses spelled-out years: "two thousand and twenty-four",
// "Two Thousand Twenty Five", "nineteen ninety-nine", or a plain "2024".
func YearFromWords(phrase string) (int, bool) {
	tokens := numberTokens(phrase)
	if len(tokens) == 0 {
		return 0, false
	}
	if len(tokens[0]) == 4 {
		if n, err := strconv.Atoi(tokens[0]); err == nil {
			return n, true
		}
	}

	if len(tokens) >= 2 && tokens[0] == "two" && tokens[1] == "thousand" {
		tail := tokens[2:]
		if len(tail) > 0 && tail[0] == "and" {
			tail = tail[1:]
		}
		n, used := leadingNumber(tail)
		if scaleAt(tail, used) {
			return 0, false
		}
		return 2000 + n, true
	}

	// "nineteen ninety-nine" style: century pair followed by a 0..99 group.
	century, used := leadingNumber(tokens)
	if used == 0 || century < 10 {
		return 0, false
	}
	rest := tokens[used:]
	if len(rest) > 0 && rest[0] == "hundred" {
		rest = rest[1:]
		if len(rest) > 0 && rest[0] == "and" {
			rest = rest[1:]
		}
	}
	lo, loUsed := leadingNumber(rest)
	if loUsed == 0 || scaleAt(rest, loUsed) {
		return 0, false
	}
	return century*100 + lo, true
}

// scaleAt reports whether tokens[i] is a scale word, which would make the
// preceding group part of a larger number than a year allows.
func scaleAt(tokens []string, i int) bool {
	if i >= len(tokens) {
		return false
	}
	return tokens[i] == "hundred" || tokens[i] == "thousand"
}

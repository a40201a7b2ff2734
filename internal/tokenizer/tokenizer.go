// Package tokenizer canonicalizes file names and track references into
// comparable lowercase ASCII word streams. Every component that indexes or
// queries names goes through Normalize; there is no second implementation.
package tokenizer

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// nonAlphanumericRegex matches sequences of characters outside [a-z0-9].
var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// foldTable maps letters that do not decompose into base Latin letters plus a
// combining mark (or that need a multi-letter expansion) to their ASCII form.
var foldTable = map[rune]string{
	'ç': "c", 'Ç': "c",
	'ğ': "g", 'Ğ': "g",
	'ı': "i", 'İ': "i",
	'ö': "o", 'Ö': "o",
	'ü': "u", 'Ü': "u",
	'ş': "s", 'Ş': "s",
	'ñ': "n", 'Ñ': "n",
	'ß': "ss", 'ẞ': "ss",
	'æ': "ae", 'Æ': "ae",
	'œ': "oe", 'Œ': "oe",
	'ø': "o", 'Ø': "o",
	'ł': "l", 'Ł': "l",
	'đ': "d", 'Đ': "d",
	'ð': "d", 'Ð': "d",
	'þ': "th", 'Þ': "th",
	'á': "a", 'à': "a", 'â': "a", 'ä': "a", 'ã': "a", 'å': "a",
	'Á': "a", 'À': "a", 'Â': "a", 'Ä': "a", 'Ã': "a", 'Å': "a",
	'é': "e", 'è': "e", 'ê': "e", 'ë': "e",
	'É': "e", 'È': "e", 'Ê': "e", 'Ë': "e",
	'í': "i", 'ì': "i", 'î': "i", 'ï': "i",
	'Í': "i", 'Ì': "i", 'Î': "i", 'Ï': "i",
	'ó': "o", 'ò': "o", 'ô': "o", 'õ': "o",
	'Ó': "o", 'Ò': "o", 'Ô': "o", 'Õ': "o",
	'ú': "u", 'ù': "u", 'û': "u",
	'Ú': "u", 'Ù': "u", 'Û': "u",
	'ý': "y", 'ÿ': "y", 'Ý': "y",
}

// Normalize converts arbitrary Unicode text into NormalizedText: diacritics
// folded to base Latin letters, lowercased, every character outside [a-z0-9]
// replaced by a space, whitespace collapsed and trimmed.
//
// Normalize is deterministic and idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	composed := norm.NFC.String(raw)

	var b strings.Builder
	b.Grow(len(composed))
	for _, r := range composed {
		if folded, ok := foldTable[r]; ok {
			b.WriteString(folded)
			continue
		}
		if r < utf8.RuneSelf {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		// Anything not in the table: decompose and drop combining marks.
		for _, d := range norm.NFD.String(string(r)) {
			if unicode.Is(unicode.Mn, d) {
				continue
			}
			b.WriteRune(unicode.ToLower(d))
		}
	}

	return strings.TrimSpace(nonAlphanumericRegex.ReplaceAllString(b.String(), " "))
}

// Words splits normalized text into words, dropping words shorter than
// minWordLength. The same filter must be used at index time and query time.
func Words(normalized string, minWordLength int) []string {
	fields := strings.Fields(normalized)
	words := make([]string, 0, len(fields)) // Initialize as empty slice, not nil
	for _, w := range fields {
		if len(w) < minWordLength {
			continue
		}
		words = append(words, w)
	}
	return words
}

// maxExtensionLength bounds what counts as a file extension, so titles such as
// "Mr. Brightside" keep their words.
const maxExtensionLength = 6

// Extension returns the file extension of fileName including the dot, or ""
// if the trailing dot segment does not look like an extension.
func Extension(fileName string) string {
	ext := filepath.Ext(fileName)
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ""
		}
	}
	return ext
}

// Stem returns fileName without its extension.
func Stem(fileName string) string {
	return strings.TrimSuffix(fileName, Extension(fileName))
}

// BaseName returns the last element of a path written with either forward or
// backward slashes; playlists exported on Windows use the latter.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// NormalizeFileName normalizes the stem of a file name.
func NormalizeFileName(fileName string) string {
	return Normalize(Stem(fileName))
}

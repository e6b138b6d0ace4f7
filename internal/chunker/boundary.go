package chunker

// sentenceEnders are runes that terminate a sentence for break purposes.
var sentenceEnders = map[rune]bool{
	'.':  true,
	'!':  true,
	'?':  true,
	'\n': true,
}

// sentenceBoundary prefers to end chunks just after a sentence terminator,
// falling back to the nearest whitespace, so windows avoid severing words
// and sentences where the text allows it.
type sentenceBoundary struct{}

// Sentences returns the default boundary strategy for plain text.
func Sentences() Boundary {
	return sentenceBoundary{}
}

// Cut scans backward from the ideal end looking first for a sentence
// terminator and then for whitespace. Returns ideal when neither appears in
// the acceptable range.
func (sentenceBoundary) Cut(text []rune, min, ideal int) int {
	for i := ideal; i > min; i-- {
		if sentenceEnders[text[i-1]] {
			return i
		}
	}
	for i := ideal; i > min; i-- {
		if text[i-1] == ' ' || text[i-1] == '\t' {
			return i
		}
	}
	return ideal
}

package truncator

// ApproxTokenizer estimates one token per four runes.
type ApproxTokenizer struct{}

// Count implements Tokenizer.
func (ApproxTokenizer) Count(text string) int {
	return (len([]rune(text)) + 3) / 4
}

// Head implements Tokenizer.
func (ApproxTokenizer) Head(text string, n int) string {
	r := []rune(text)
	if n <= 0 {
		return ""
	}
	if len(r) <= n*4 {
		return text
	}
	return string(r[:n*4])
}

// Tail implements Tokenizer.
func (ApproxTokenizer) Tail(text string, n int) string {
	r := []rune(text)
	if n <= 0 {
		return ""
	}
	if len(r) <= n*4 {
		return text
	}
	return string(r[len(r)-n*4:])
}

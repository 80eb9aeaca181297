// Package truncator fits message lists into a token budget.
//
// Content that may be shortened is wrapped with Wrap, which embeds invisible markers
// carrying the truncation options. TruncateWrappedContent shrinks wrapped segments first,
// weighted by their Flex, then (outside throw mode) falls back to unwrapped content. Markers
// never reach the model.
package truncator

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"codeloop/pkg/llm"
)

// ErrCannotFit is returned in throw mode when the messages cannot be reduced to the budget.
var ErrCannotFit = errors.New("content cannot be truncated to fit the token limit")

// Preserve selects which end of a segment survives truncation.
type Preserve string

// Preservation anchors.
const (
	PreserveTop    Preserve = "top"
	PreserveBottom Preserve = "bottom"
	PreserveBoth   Preserve = "both"
)

// Options configure a wrapped segment. Zero values mean PreserveTop, Flex 1, MinTokens 0.
type Options struct {
	Preserve  Preserve
	Flex      float64
	MinTokens int
}

func (o Options) withDefaults() Options {
	if o.Preserve == "" {
		o.Preserve = PreserveTop
	}
	if o.Flex <= 0 {
		o.Flex = 1
	}
	if o.MinTokens < 0 {
		o.MinTokens = 0
	}
	return o
}

// Tokenizer counts tokens and cuts text on token boundaries.
type Tokenizer interface {
	Count(text string) int
	Head(text string, n int) string
	Tail(text string, n int) string
}

// Output budget bounds.
const (
	minOutputTokens    = 1_000
	maxOutputTokens    = 16_000
	outputBudgetFactor = 0.1
)

// ModelOutputLimit returns the tokens reserved for the model's answer:
// clamp(0.1 × inputLength, 1000, 16000).
func ModelOutputLimit(inputLength int) int {
	v := outputBudgetFactor * float64(inputLength)
	return int(math.Min(math.Max(v, minOutputTokens), maxOutputTokens))
}

// Markers are built from invisible separator characters that do not occur in normal text.
const (
	markerOpen  = "\u2063\u2064trunc:"
	markerClose = "\u2064\u2063"
	markerEnd   = "\u2063\u2064/trunc\u2064\u2063"
)

var markerRE = regexp.MustCompile(regexp.QuoteMeta(markerOpen) + `(top|bottom|both):([0-9.]+):([0-9]+)` +
	regexp.QuoteMeta(markerClose) + `|` + regexp.QuoteMeta(markerEnd))

// Wrap marks content as truncatable. Markers already inside content are removed, so nested
// wraps collapse into the outermost one.
func Wrap(content string, opts ...Options) string {
	o := Options{}
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()
	return fmt.Sprintf("%s%s:%s:%d%s%s%s",
		markerOpen, o.Preserve, strconv.FormatFloat(o.Flex, 'f', -1, 64), o.MinTokens, markerClose,
		Strip(content), markerEnd)
}

// Strip removes all truncation markers from text.
func Strip(text string) string {
	return markerRE.ReplaceAllString(text, "")
}

type segment struct {
	text    string
	wrapped bool
	opts    Options
	tokens  int
}

type message struct {
	src      llm.CompletionMessage
	segments []*segment
}

func (m *message) tokens() int {
	n := 0
	for _, s := range m.segments {
		n += s.tokens
	}
	return n
}

func (m *message) content() string {
	var b strings.Builder
	for _, s := range m.segments {
		b.WriteString(s.text)
	}
	return b.String()
}

// parse splits text into wrapped and unwrapped segments. An unmatched open marker wraps the
// rest of the text; a stray end marker is dropped.
func parse(text string, tk Tokenizer) []*segment {
	var out []*segment
	add := func(s string, wrapped bool, o Options) {
		if s == "" {
			return
		}
		out = append(out, &segment{text: s, wrapped: wrapped, opts: o, tokens: tk.Count(s)})
	}

	pos := 0
	var open *Options
	openAt := 0
	for _, loc := range markerRE.FindAllStringSubmatchIndex(text, -1) {
		if loc[2] >= 0 {
			if open != nil {
				add(text[openAt:loc[0]], true, *open)
			} else {
				add(text[pos:loc[0]], false, Options{})
			}
			flex, _ := strconv.ParseFloat(text[loc[4]:loc[5]], 64)
			minTokens, _ := strconv.Atoi(text[loc[6]:loc[7]])
			o := Options{Preserve: Preserve(text[loc[2]:loc[3]]), Flex: flex, MinTokens: minTokens}.withDefaults()
			open = &o
			openAt = loc[1]
			pos = loc[1]
			continue
		}
		if open != nil {
			add(text[openAt:loc[0]], true, *open)
			open = nil
		} else {
			add(text[pos:loc[0]], false, Options{})
		}
		pos = loc[1]
	}
	if open != nil {
		add(text[openAt:], true, *open)
	} else {
		add(text[pos:], false, Options{})
	}
	return out
}

// shrink cuts text down to n tokens keeping the anchored end(s).
func shrink(text string, n int, preserve Preserve, tk Tokenizer) string {
	if n <= 0 {
		return ""
	}
	switch preserve {
	case PreserveBottom:
		return tk.Tail(text, n)
	case PreserveBoth:
		const sep = "\n...\n"
		budget := n - tk.Count(sep)
		if budget < 2 {
			return tk.Head(text, n)
		}
		head := budget - budget/2
		return tk.Head(text, head) + sep + tk.Tail(text, budget/2)
	default:
		return tk.Head(text, n)
	}
}

// TruncateWrappedContent reduces messages to at most tokenLimit tokens. Messages whose content
// ends up blank are dropped and markers are stripped from the result. In throw mode only
// wrapped segments are shortened and ErrCannotFit is returned if that is not enough.
// A nil tk uses ApproxTokenizer.
func TruncateWrappedContent(messages []llm.CompletionMessage, tokenLimit int, throwOnFailure bool, tk Tokenizer) ([]llm.CompletionMessage, error) {
	if tk == nil {
		tk = ApproxTokenizer{}
	}
	if tokenLimit < 0 {
		tokenLimit = 0
	}

	parsed := make([]*message, len(messages))
	total := 0
	for i := range messages {
		parsed[i] = &message{src: messages[i], segments: parse(messages[i].Content, tk)}
		total += parsed[i].tokens()
	}

	if total > tokenLimit {
		total = shrinkWrapped(parsed, total-tokenLimit, tk)
	}

	if total > tokenLimit {
		if throwOnFailure {
			return nil, fmt.Errorf("%w: %d tokens over a limit of %d", ErrCannotFit, total, tokenLimit)
		}
		shrinkLargest(parsed, total, tokenLimit, tk)
	}

	out := make([]llm.CompletionMessage, 0, len(parsed))
	for _, m := range parsed {
		content := m.content()
		if strings.TrimSpace(content) == "" {
			continue
		}
		msg := m.src
		msg.Content = content
		out = append(out, msg)
	}
	return out, nil
}

// shrinkWrapped distributes excess over wrapped segments in proportion to Flex × size,
// never cutting a segment below its MinTokens. It returns the new total.
func shrinkWrapped(msgs []*message, excess int, tk Tokenizer) int {
	var wrapped []*segment
	for _, m := range msgs {
		for _, s := range m.segments {
			if s.wrapped && s.tokens > s.opts.MinTokens {
				wrapped = append(wrapped, s)
			}
		}
	}

	target := make(map[*segment]int, len(wrapped))
	for _, s := range wrapped {
		target[s] = s.tokens
	}

	remaining := excess
	for remaining > 0 && len(wrapped) > 0 {
		weight := 0.0
		for _, s := range wrapped {
			weight += s.opts.Flex * float64(target[s])
		}
		if weight <= 0 {
			break
		}

		next := wrapped[:0]
		cutThisRound := 0
		for _, s := range wrapped {
			capacity := target[s] - s.opts.MinTokens
			cut := int(math.Ceil(float64(remaining) * s.opts.Flex * float64(target[s]) / weight))
			if cut > capacity {
				cut = capacity
			}
			if cut > remaining-cutThisRound {
				cut = remaining - cutThisRound
			}
			target[s] -= cut
			cutThisRound += cut
			if target[s] > s.opts.MinTokens {
				next = append(next, s)
			}
		}
		remaining -= cutThisRound
		wrapped = next
		if cutThisRound == 0 {
			break
		}
	}

	for s, n := range target {
		if n < s.tokens {
			s.text = shrink(s.text, n, s.opts.Preserve, tk)
			s.tokens = tk.Count(s.text)
		}
	}

	total := 0
	for _, m := range msgs {
		total += m.tokens()
	}
	return total
}

// shrinkLargest repeatedly cuts the biggest segment of the biggest message until the total
// fits. Every step removes at least one token or empties a segment.
func shrinkLargest(msgs []*message, total, limit int, tk Tokenizer) {
	for total > limit {
		var biggest *message
		for _, m := range msgs {
			if biggest == nil || m.tokens() > biggest.tokens() {
				biggest = m
			}
		}
		if biggest == nil || biggest.tokens() == 0 {
			return
		}

		var seg *segment
		for _, s := range biggest.segments {
			if seg == nil || s.tokens > seg.tokens {
				seg = s
			}
		}

		keep := seg.tokens - (total - limit)
		preserve := PreserveTop
		if seg.wrapped {
			preserve = seg.opts.Preserve
		}
		before := seg.tokens
		seg.text = shrink(seg.text, keep, preserve, tk)
		seg.tokens = tk.Count(seg.text)
		if seg.tokens >= before {
			seg.text = dropRunes(seg.text, 1)
			seg.tokens = tk.Count(seg.text)
		}
		total -= before - seg.tokens
	}
}

func dropRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	return string(r[:len(r)-n])
}

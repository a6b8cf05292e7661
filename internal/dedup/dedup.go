// Package dedup decides whether a recognised text segment is new content,
// noise, a duplicate, or an overlapping continuation of previously accepted
// text.
//
// Overlapping audio buffers (retained deliberately by the voice activity
// segmenter to avoid boundary word loss) produce overlapping text, and
// recognition providers re-emit near-identical segments under noisy input.
// The [Deduper] applies a fixed rule chain — normalise, exact-hash, overlap
// trim, similarity window, repetition filter — and either rejects the
// candidate with a reason or returns the cleaned text to append.
//
// The original implementation scattered this logic across call sites with
// inconsistent thresholds; here there is exactly one similarity metric
// (normalised Levenshtein) and one set of constructor-injected thresholds.
//
// A Deduper is read-only after construction and safe for concurrent use;
// callers are expected to run Evaluate inside the session's Update lock so
// the evaluate-then-append sequence is atomic per session.
package dedup

import (
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/mooner92/onvoice/internal/session"
)

// Default thresholds. See the With* options.
const (
	defaultSimilarityThreshold = 0.85
	defaultSimilarityWindow    = 8
	defaultSimilarityMaxAge    = 10 * time.Second
	defaultMinOverlap          = 3

	// containmentMinLen is the minimum length of the shorter string for the
	// substring-containment rule to apply. Very short strings are contained
	// in almost anything.
	containmentMinLen = 10

	// repetitionRatio and repetitionMinWords gate the low-quality filter:
	// segments with more than repetitionMinWords words and a unique-word
	// ratio below repetitionRatio are rejected. Short segments bypass the
	// filter — the ratio is meaningless on tiny samples.
	repetitionRatio    = 0.3
	repetitionMinWords = 5
)

// Reason explains why a candidate was rejected.
type Reason string

const (
	ReasonTooShort        Reason = "too short"
	ReasonExactDuplicate  Reason = "exact duplicate"
	ReasonCompleteOverlap Reason = "complete overlap"
	ReasonNearDuplicate   Reason = "near-duplicate"
	ReasonLowQuality      Reason = "low quality / repetitive"
)

// Decision is the outcome of one [Deduper.Evaluate] call.
type Decision struct {
	// Accepted reports whether the candidate survived the rule chain.
	Accepted bool

	// CleanText is the overlap-trimmed text to append. Case and interior
	// punctuation are preserved; only a duplicated prefix is ever removed.
	// Empty unless Accepted.
	CleanText string

	// NormalizedHash is the hash of the normalised CleanText, ready for
	// [session.Working.Append]. Zero unless Accepted.
	NormalizedHash uint64

	// Reason is set when Accepted is false.
	Reason Reason
}

// Option is a functional option for [New].
type Option func(*Deduper)

// WithSimilarityThreshold sets the normalised-similarity score at or above
// which a candidate is rejected as a near-duplicate. The boundary is
// inclusive: a score exactly at the threshold rejects. Default: 0.85.
func WithSimilarityThreshold(threshold float64) Option {
	return func(d *Deduper) {
		d.similarityThreshold = threshold
	}
}

// WithSimilarityWindow sets how many recent accepted segments a candidate is
// compared against and the maximum age of those segments. maxAge <= 0
// disables the age filter (the loose variant). Default: 8 segments, 10s.
func WithSimilarityWindow(n int, maxAge time.Duration) Option {
	return func(d *Deduper) {
		d.windowSize = n
		d.windowMaxAge = maxAge
	}
}

// WithMinOverlap sets the minimum prefix/suffix overlap length (in runes)
// the overlap trimmer will act on. Default: 3.
func WithMinOverlap(n int) Option {
	return func(d *Deduper) {
		d.minOverlap = n
	}
}

// Deduper evaluates candidate segments against a session's working state.
type Deduper struct {
	similarityThreshold float64
	windowSize          int
	windowMaxAge        time.Duration
	minOverlap          int
}

// New returns a [Deduper] configured with the supplied options.
func New(opts ...Option) *Deduper {
	d := &Deduper{
		similarityThreshold: defaultSimilarityThreshold,
		windowSize:          defaultSimilarityWindow,
		windowMaxAge:        defaultSimilarityMaxAge,
		minOverlap:          defaultMinOverlap,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Evaluate runs the rule chain for rawText against the session state w.
// On acceptance the caller is responsible for appending the decision's
// CleanText and NormalizedHash to w; Evaluate itself never mutates state.
func (d *Deduper) Evaluate(w *session.Working, rawText string) Decision {
	// Step 1: normalise. cleanText keeps case for downstream consumers
	// (translation meaning can depend on it); norm is the lowercased form
	// every dedup comparison uses.
	cleanText := Collapse(rawText)
	norm := strings.ToLower(cleanText)
	if len([]rune(norm)) < 2 {
		return Decision{Reason: ReasonTooShort}
	}

	// Step 2: exact-hash dedup.
	if w.SeenHash(session.Hash(norm)) {
		return Decision{Reason: ReasonExactDuplicate}
	}

	// Step 3: overlap trimming against the last accepted segment.
	if prev, ok := w.LastSegment(); ok {
		prevNorm := strings.ToLower(Collapse(prev.Text))
		if l := d.longestOverlap(prevNorm, norm); l > 0 {
			cleanText = strings.TrimSpace(string([]rune(cleanText)[l:]))
			norm = strings.ToLower(cleanText)
			if norm == "" {
				return Decision{Reason: ReasonCompleteOverlap}
			}
		}
	}

	// Step 4: similarity-window dedup over the trimmed text.
	for _, seg := range w.Recent(d.windowSize, d.windowMaxAge) {
		segNorm := strings.ToLower(Collapse(seg.Text))
		if segNorm == "" {
			continue
		}
		if similarity(norm, segNorm) >= d.similarityThreshold {
			return Decision{Reason: ReasonNearDuplicate}
		}
		if contained(norm, segNorm) {
			return Decision{Reason: ReasonNearDuplicate}
		}
	}

	// Step 5: repetition-quality filter.
	if isRepetitive(norm) {
		return Decision{Reason: ReasonLowQuality}
	}

	return Decision{
		Accepted:       true,
		CleanText:      cleanText,
		NormalizedHash: session.Hash(norm),
	}
}

// longestOverlap returns the length (in runes) of the longest suffix of prev
// that equals a prefix of cand, scanning lengths from minOverlap up to the
// full shorter length. Returns 0 when no overlap of at least minOverlap
// exists.
func (d *Deduper) longestOverlap(prev, cand string) int {
	pr := []rune(prev)
	cr := []rune(cand)
	limit := min(len(pr), len(cr))

	best := 0
	for l := d.minOverlap; l <= limit; l++ {
		if string(pr[len(pr)-l:]) == string(cr[:l]) {
			best = l
		}
	}
	return best
}

// similarity is the one canonical metric: normalised Levenshtein similarity,
// 1 - dist/max(len). Symmetric; 1.0 for identical strings, 0.0 for fully
// disjoint ones.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	dist := matchr.Levenshtein(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// contained reports whether one string is a substring of the other and the
// shorter one is long enough for containment to be meaningful.
func contained(a, b string) bool {
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if len([]rune(shorter)) <= containmentMinLen {
		return false
	}
	return strings.Contains(longer, shorter)
}

// isRepetitive reports whether text fails the unique-word ratio filter.
func isRepetitive(text string) bool {
	words := strings.Fields(text)
	if len(words) <= repetitionMinWords {
		return false
	}
	unique := make(map[string]struct{}, len(words))
	for _, word := range words {
		unique[word] = struct{}{}
	}
	return float64(len(unique))/float64(len(words)) < repetitionRatio
}

// Collapse trims text and collapses every run of whitespace and punctuation
// into a single space, preserving case. The lowercased result is the dedup
// normal form.
func Collapse(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package correct applies vocabulary-guided corrections to low-confidence
// transcripts.
//
// Short-form speech-to-text reliably mangles the domain words that matter
// most for topic extraction — exercise names, ingredients, product and
// technique terms. The corrector aligns the transcript against the creator's
// canonical topic vocabulary in two stages:
//
//  1. Phonetic matching ([Matcher]): Double Metaphone code overlap filters
//     candidates, Jaro-Winkler similarity ranks them. In-process, no network
//     calls.
//
//  2. LLM review ([Verifier]): a language model reviews the text with the
//     vocabulary as context; its edits are cross-checked token by token and
//     any change it did not declare is reverted.
//
// Every applied substitution is recorded with its method and confidence so
// artifacts stay auditable. Correction is gated on the transcriber's mean
// confidence: transcripts at or above the trigger threshold pass through
// untouched.
package correct

import (
	"context"
	"strings"

	"github.com/MrWong99/reelsonar/pkg/types"
)

const defaultTrigger = 0.6

// Correction is one substitution applied to the transcript text.
type Correction struct {
	// Original is the phrase as transcribed.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the stage's confidence in the substitution (0.0–1.0).
	Confidence float64

	// Method is "phonetic" or "llm".
	Method string
}

// Result pairs the corrected text with the substitutions that produced it.
type Result struct {
	// Text is the full corrected transcript text. Equals the input text
	// when nothing matched or the trigger did not fire.
	Text string

	// Corrections lists applied substitutions in order. Never nil.
	Corrections []Correction
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher. Pass nil to disable the
// phonetic stage.
func WithMatcher(m *Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// WithVerifier attaches an LLM review stage. Default: none.
func WithVerifier(v *Verifier) Option {
	return func(c *Corrector) { c.verifier = v }
}

// WithTrigger sets the mean-confidence threshold below which correction
// runs. Transcripts reporting a confidence at or above it are returned
// unchanged; zero-confidence transcripts (the provider reported nothing)
// always run. A trigger ≤ 0 corrects unconditionally. Default: 0.6.
func WithTrigger(threshold float64) Option {
	return func(c *Corrector) { c.trigger = threshold }
}

// Corrector runs the configured correction stages in order. Safe for
// concurrent use — all state is read-only after construction.
type Corrector struct {
	matcher  *Matcher
	verifier *Verifier
	trigger  float64
}

// New returns a Corrector with the default phonetic matcher, no LLM
// verifier, and the default trigger.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		matcher: NewMatcher(),
		trigger: defaultTrigger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ShouldCorrect reports whether the confidence trigger fires for tr.
func (c *Corrector) ShouldCorrect(tr types.Transcript) bool {
	return c.trigger <= 0 || tr.Confidence < c.trigger
}

// Correct applies the stages to tr's text against the creator's vocabulary
// and returns the corrected text with an itemised substitution record.
//
// Transcripts above the trigger, an empty vocabulary, or a corrector with
// all stages disabled return the text unchanged with an empty (non-nil)
// corrections slice. LLM transport errors abort with an error; an
// unparseable LLM reply degrades to the phonetic-only result.
func (c *Corrector) Correct(ctx context.Context, tr types.Transcript, vocab []string) (*Result, error) {
	result := &Result{Text: tr.Text, Corrections: []Correction{}}
	if !c.ShouldCorrect(tr) || len(vocab) == 0 {
		return result, nil
	}

	working := tr.Text

	if c.matcher != nil {
		text, corrections := c.applyMatcher(working, vocab)
		working = text
		result.Corrections = append(result.Corrections, corrections...)
	}

	if c.verifier != nil {
		text, corrections, err := c.verifier.Review(ctx, working, vocab)
		if err != nil {
			return nil, err
		}
		working = text
		result.Corrections = append(result.Corrections, corrections...)
	}

	result.Text = working
	return result, nil
}

// applyMatcher scans the text with n-gram windows against the prepared
// vocabulary, longest window first so multi-word terms win over partial
// single-word matches. Trailing punctuation is split off each window before
// matching and reattached after substitution.
func (c *Corrector) applyMatcher(text string, vocab []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	prepared := PrepareVocab(vocab)
	maxWords := prepared.MaxWords()
	if maxWords == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, tail := splitTrailingPunct(window)
			term, conf, ok := c.matcher.Match(core, prepared)
			if !ok {
				continue
			}
			if strings.EqualFold(term, core) {
				// Already canonical; consume without recording.
				output = append(output, tokens[i:i+n]...)
			} else {
				output = append(output, strings.Fields(term+tail)...)
				corrections = append(corrections, Correction{
					Original:   core,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// splitTrailingPunct splits trailing sentence punctuation off a window so
// "prep." matches the vocabulary term "prep" and the punctuation survives
// the substitution.
func splitTrailingPunct(s string) (core, tail string) {
	i := len(s)
	for i > 0 && strings.ContainsRune(`.,;:!?"')`, rune(s[i-1])) {
		i--
	}
	return s[:i], s[i:]
}

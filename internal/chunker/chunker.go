// Package chunker splits raw text into overlapping fixed-size word windows
// suitable for embedding.
//
// Chunking is deterministic and side-effect-free: no I/O, no allocation
// beyond the returned slice, so the window arithmetic can be tested
// exhaustively.
package chunker

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
)

// DefaultWindowSize is the default window size in words.
const DefaultWindowSize = 500

// DefaultOverlap is the default overlap between consecutive windows in words.
const DefaultOverlap = 50

// Chunker produces overlapping word windows from raw text.
type Chunker struct {
	windowSize int
	overlap    int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithWindowSize sets the window size in words.
func WithWindowSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.windowSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive windows in words.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		windowSize: DefaultWindowSize,
		overlap:    DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Overlap must leave a positive step, otherwise the window never advances.
	if c.overlap >= c.windowSize {
		c.overlap = c.windowSize / 4
	}
	return c
}

// Chunk splits text into overlapping word windows.
//
// Windows advance by windowSize-overlap words per step. Once the remaining
// tail is smaller than the overlap it is folded into the final chunk instead
// of being emitted as a near-duplicate trailing chunk. Text shorter than one
// window produces exactly one chunk equal to the whole text.
//
// Empty or whitespace-only text is a validation error, not a silent no-op:
// an item with zero chunks would be invisible to search with no indication
// why.
func (c *Chunker) Chunk(text string) ([]string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrValidation)
	}

	if len(words) <= c.windowSize {
		return []string{strings.Join(words, " ")}, nil
	}

	step := c.windowSize - c.overlap
	chunks := make([]string, 0, len(words)/step+1)

	for start := 0; start < len(words); start += step {
		end := start + c.windowSize
		if end > len(words) {
			end = len(words)
		}

		// Fold a short tail into this chunk rather than emitting it as a
		// mostly-overlap trailing window.
		remaining := len(words) - end
		if remaining > 0 && remaining < c.overlap {
			end = len(words)
		}

		chunks = append(chunks, strings.Join(words[start:end], " "))

		if end == len(words) {
			break
		}
	}

	return chunks, nil
}

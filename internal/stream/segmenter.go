// Package stream re-chunks a live generation into clause-sized units and
// screens the accumulated output for instruction leakage as it grows.
package stream

import (
	"context"
	"strings"

	"github.com/reagent-ai/reagent/internal/guard"
	"github.com/reagent-ai/reagent/pkg/llm"
)

const (
	// RefusalMessage replaces the response when generated text reproduces
	// protected instruction text.
	RefusalMessage = "Sorry, I'm not able to respond to that request."

	// DoneSentinel is the fixed terminal chunk of every streamed response.
	DoneSentinel = "[DONE]\n\n"
)

// delimiters are the characters a chunk may end on. Chunks keep their
// trailing delimiter.
const delimiters = ".,\n"

// Segmenter drives one generation's fragment stream into ordered chunks.
// It holds no cross-request state; construct one per request.
type Segmenter struct {
	protected []string
}

// NewSegmenter creates a segmenter that screens against the given protected
// phrases.
func NewSegmenter(protected []string) *Segmenter {
	return &Segmenter{protected: protected}
}

// Run consumes src's fragments and sends chunks to out until the generation
// ends. The caller owns out; Run never closes it.
//
// An optional preamble is emitted first. Each incoming fragment is appended
// to an unflushed buffer and to the full accumulated text; the accumulated
// text is screened after every fragment, and a detected leak replaces the
// rest of the response with the refusal message, the sentinel, and an
// upstream cancel. Otherwise the buffer is drained chunk by chunk at the
// earliest delimiter. A normal end flushes the remaining buffer and emits
// the sentinel; an upstream failure emits nothing further and is returned.
func (s *Segmenter) Run(ctx context.Context, src llm.Stream, preamble string, out chan<- string) error {
	emit := func(chunk string) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if preamble != "" && !emit(preamble) {
		src.Close()
		return ctx.Err()
	}

	var accumulated strings.Builder
	buffer := ""
	for fragment := range src.Fragments() {
		if fragment == "" {
			continue
		}
		buffer += fragment
		accumulated.WriteString(fragment)

		if guard.Leaked(accumulated.String(), s.protected) {
			src.Close()
			if emit(RefusalMessage) {
				emit(DoneSentinel)
			}
			return nil
		}

		for {
			idx := strings.IndexAny(buffer, delimiters)
			if idx < 0 {
				break
			}
			if !emit(buffer[:idx+1]) {
				src.Close()
				return ctx.Err()
			}
			buffer = buffer[idx+1:]
		}
	}

	if err := src.Err(); err != nil {
		return err
	}

	if buffer != "" && !emit(buffer) {
		return ctx.Err()
	}
	if !emit(DoneSentinel) {
		return ctx.Err()
	}
	return nil
}

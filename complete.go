package kernelrun

import (
	"context"
	"fmt"
)

// Completion is one completion match.
type Completion struct {
	// Text replaces the span beginning Offset characters from the
	// cursor.
	Text string

	// Offset locates the start of the replaced span relative to the
	// cursor position; negative means the span begins before the
	// cursor.
	Offset int

	// Kind labels the match ("function", "keyword", ...) when the
	// kernel provides one.
	Kind string
}

// Complete asks the kernel for completions of code at cursorPos. The
// kernel's reply shape is normalized: offsets are always relative to the
// cursor, whichever form the kernel speaks.
func (k *Kernel) Complete(ctx context.Context, code string, cursorPos int) ([]Completion, error) {
	return doValue(k.host, ctx, "complete", func(ctx context.Context) ([]Completion, error) {
		reply, err := k.roundTrip(ctx, MsgTypeCompleteRequest, CompleteRequest{
			Code:      code,
			CursorPos: cursorPos,
		})
		if err != nil {
			return nil, err
		}
		var c CompleteReply
		if err := reply.DecodeContent(&c); err != nil {
			return nil, fmt.Errorf("kernelrun: decode complete reply: %w", err)
		}
		if c.Status != StatusOK {
			return nil, nil
		}
		return normalizeCompletions(c, cursorPos), nil
	})
}

// normalizeCompletions flattens the two completion reply shapes into one
// list. Kernels with rich completion metadata describe every match with
// its own replacement start and type; plain kernels share a single
// cursor_start across a flat match list.
func normalizeCompletions(c CompleteReply, cursorPos int) []Completion {
	if exp := c.Metadata.Experimental; len(exp) > 0 {
		out := make([]Completion, 0, len(exp))
		for _, m := range exp {
			kind := m.Type
			if kind == "<unknown>" {
				kind = ""
			}
			out = append(out, Completion{
				Text:   m.Text,
				Offset: m.Start - cursorPos,
				Kind:   kind,
			})
		}
		return out
	}
	out := make([]Completion, 0, len(c.Matches))
	for _, text := range c.Matches {
		out = append(out, Completion{
			Text:   text,
			Offset: c.CursorStart - cursorPos,
		})
	}
	return out
}

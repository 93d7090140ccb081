package kernelrun

import (
	"context"
	"encoding/json"
	"fmt"
)

// HistoryItem is one entry of the kernel's execution history.
type HistoryItem struct {
	// Session is the kernel session the entry was recorded in.
	Session int

	// Line is the entry's line number within its session.
	Line int

	// Input is the source that was executed.
	Input string
}

// UnmarshalJSON decodes the wire triple [session, line, input]. Kernels
// asked to include outputs send the third element as a pair whose first
// element is the input.
func (h *HistoryItem) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &h.Session); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &h.Line); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[2], &h.Input); err == nil {
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw[2], &pair); err != nil || len(pair) == 0 {
		return fmt.Errorf("kernelrun: malformed history entry")
	}
	return json.Unmarshal(pair[0], &h.Input)
}

// History searches the kernel's execution history for entries matching
// pattern, returning at most n, oldest first and exactly as the kernel
// ordered them.
func (k *Kernel) History(ctx context.Context, pattern string, n int) ([]HistoryItem, error) {
	return k.history(ctx, HistoryRequest{
		Output:         false,
		Raw:            true,
		HistAccessType: "search",
		Pattern:        pattern,
		N:              n,
	})
}

// HistoryTail returns the last n history entries, oldest first.
func (k *Kernel) HistoryTail(ctx context.Context, n int) ([]HistoryItem, error) {
	return k.history(ctx, HistoryRequest{
		Output:         false,
		Raw:            true,
		HistAccessType: "tail",
		N:              n,
	})
}

func (k *Kernel) history(ctx context.Context, req HistoryRequest) ([]HistoryItem, error) {
	return doValue(k.host, ctx, "history", func(ctx context.Context) ([]HistoryItem, error) {
		reply, err := k.roundTrip(ctx, MsgTypeHistoryRequest, req)
		if err != nil {
			return nil, err
		}
		var c HistoryReply
		if err := reply.DecodeContent(&c); err != nil {
			return nil, fmt.Errorf("kernelrun: decode history reply: %w", err)
		}
		return c.History, nil
	})
}

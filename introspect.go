package kernelrun

import (
	"context"
	"fmt"
)

// KernelInfo asks the kernel to describe itself: implementation,
// language, banner, protocol version.
func (k *Kernel) KernelInfo(ctx context.Context) (*KernelInfoReply, error) {
	return doValue(k.host, ctx, "kernel_info", func(ctx context.Context) (*KernelInfoReply, error) {
		reply, err := k.roundTrip(ctx, MsgTypeKernelInfoRequest, nil)
		if err != nil {
			return nil, err
		}
		var c KernelInfoReply
		if err := reply.DecodeContent(&c); err != nil {
			return nil, fmt.Errorf("kernelrun: decode kernel info reply: %w", err)
		}
		return &c, nil
	})
}

// IsComplete asks whether code forms a complete statement. Console
// callers gate multi-line input on the answer.
func (k *Kernel) IsComplete(ctx context.Context, code string) (IsCompleteReply, error) {
	return doValue(k.host, ctx, "is_complete", func(ctx context.Context) (IsCompleteReply, error) {
		reply, err := k.roundTrip(ctx, MsgTypeIsCompleteRequest, IsCompleteRequest{Code: code})
		if err != nil {
			return IsCompleteReply{}, err
		}
		var c IsCompleteReply
		if err := reply.DecodeContent(&c); err != nil {
			return IsCompleteReply{}, fmt.Errorf("kernelrun: decode is_complete reply: %w", err)
		}
		return c, nil
	})
}

// Inspect asks for documentation of the object at cursorPos. detail 1
// requests source where the kernel can provide it.
func (k *Kernel) Inspect(ctx context.Context, code string, cursorPos, detail int) (*InspectReply, error) {
	return doValue(k.host, ctx, "inspect", func(ctx context.Context) (*InspectReply, error) {
		reply, err := k.roundTrip(ctx, MsgTypeInspectRequest, InspectRequest{
			Code:        code,
			CursorPos:   cursorPos,
			DetailLevel: detail,
		})
		if err != nil {
			return nil, err
		}
		var c InspectReply
		if err := reply.DecodeContent(&c); err != nil {
			return nil, fmt.Errorf("kernelrun: decode inspect reply: %w", err)
		}
		return &c, nil
	})
}

package kernelrun

import "encoding/json"

// ProtocolVersion is the kernel messaging protocol version stamped on
// outbound message headers.
const ProtocolVersion = "5.3"

// Message types issued by request operations.
const (
	MsgTypeExecuteRequest    = "execute_request"
	MsgTypeCompleteRequest   = "complete_request"
	MsgTypeHistoryRequest    = "history_request"
	MsgTypeInspectRequest    = "inspect_request"
	MsgTypeIsCompleteRequest = "is_complete_request"
	MsgTypeKernelInfoRequest = "kernel_info_request"
	MsgTypeInputReply        = "input_reply"
)

// Message types transports send on the control channel.
const (
	MsgTypeShutdownRequest  = "shutdown_request"
	MsgTypeInterruptRequest = "interrupt_request"
)

// Message types observed on the channels.
const (
	MsgTypeExecuteReply    = "execute_reply"
	MsgTypeCompleteReply   = "complete_reply"
	MsgTypeHistoryReply    = "history_reply"
	MsgTypeInspectReply    = "inspect_reply"
	MsgTypeIsCompleteReply = "is_complete_reply"
	MsgTypeKernelInfoReply = "kernel_info_reply"
	MsgTypeShutdownReply   = "shutdown_reply"

	MsgTypeStatus            = "status"
	MsgTypeStream            = "stream"
	MsgTypeExecuteInput      = "execute_input"
	MsgTypeExecuteResult     = "execute_result"
	MsgTypeDisplayData       = "display_data"
	MsgTypeUpdateDisplayData = "update_display_data"
	MsgTypeClearOutput       = "clear_output"
	MsgTypeError             = "error"
	MsgTypeInputRequest      = "input_request"
)

// Reply status values carried in reply contents.
const (
	StatusOK    = "ok"
	StatusErr   = "error"
	StatusAbort = "aborted"
)

// --- Execution ---

// ExecuteRequest asks the kernel to run code.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReply reports the outcome of an ExecuteRequest. On error the
// exception fields mirror an ErrorContent.
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	Ename          string   `json:"ename,omitempty"`
	Evalue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// ExecuteInputContent is the broadcast echo of code the kernel began
// executing, carrying the assigned execution counter.
type ExecuteInputContent struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// --- Broadcast output ---

// StatusContent reports an execution-state change ("busy", "idle",
// "starting").
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// StreamContent is a fragment of kernel stdout or stderr.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayDataContent is a rich display payload keyed by MIME type.
type DisplayDataContent struct {
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Transient map[string]any `json:"transient,omitempty"`
}

// ExecuteResultContent is the value produced by an execution, as a MIME
// bundle plus the execution counter.
type ExecuteResultContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ErrorContent describes an exception raised by executed code.
type ErrorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ClearOutputContent asks the client to clear accumulated output. With
// Wait set the clear is deferred until the next output arrives.
type ClearOutputContent struct {
	Wait bool `json:"wait"`
}

// --- Completion ---

// CompleteRequest asks for completions of code at a cursor offset.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

// CompleteReply carries completion matches. Kernels with rich completion
// metadata additionally populate the experimental per-match list.
type CompleteReply struct {
	Status      string           `json:"status"`
	Matches     []string         `json:"matches"`
	CursorStart int              `json:"cursor_start"`
	CursorEnd   int              `json:"cursor_end"`
	Metadata    completeMetadata `json:"metadata,omitempty"`
}

type completeMetadata struct {
	Experimental []experimentalMatch `json:"_jupyter_types_experimental,omitempty"`
}

// experimentalMatch is one entry of the experimental completion shape:
// per-match replacement span and type label.
type experimentalMatch struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

// --- History ---

// HistoryRequest asks for entries from the kernel's execution history.
type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Pattern        string `json:"pattern,omitempty"`
	Unique         bool   `json:"unique,omitempty"`
	N              int    `json:"n,omitempty"`
}

// HistoryReply carries history entries, oldest first.
type HistoryReply struct {
	Status  string        `json:"status"`
	History []HistoryItem `json:"history"`
}

// --- Introspection ---

// InspectRequest asks for documentation of the object at a cursor offset.
// DetailLevel 1 requests source where the kernel can provide it.
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

// InspectReply carries introspection results as a MIME bundle.
type InspectReply struct {
	Status   string         `json:"status"`
	Found    bool           `json:"found"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsCompleteRequest asks whether code forms a complete statement.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

// IsCompleteReply reports code completeness: Status is one of "complete",
// "incomplete", "invalid" or "unknown"; Indent is the suggested
// continuation prefix when incomplete.
type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

// --- Kernel info ---

// KernelInfoReply describes the kernel implementation and its language.
type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	Banner                string       `json:"banner"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	HelpLinks             []HelpLink   `json:"help_links,omitempty"`
}

// LanguageInfo describes the language a kernel executes.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Mimetype      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// HelpLink is one entry of a kernel's help menu.
type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// --- Stdin ---

// InputRequestContent is the kernel asking the client for a line of input.
type InputRequestContent struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// InputReply answers an input request.
type InputReply struct {
	Value string `json:"value"`
}

// --- Control ---

// ShutdownRequest asks the kernel to exit, optionally in preparation for
// an immediate restart.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

// replyStatus extracts the "status" field common to reply contents.
// Returns "" when the content has no status.
func replyStatus(content json.RawMessage) string {
	var s struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(content, &s); err != nil {
		return ""
	}
	return s.Status
}

// finalStatus reports whether status ends a request/reply exchange.
// Most replies answer ok, error or aborted; is_complete replies put the
// completeness verdict in the status field instead.
func finalStatus(status string) bool {
	switch status {
	case StatusOK, StatusErr, StatusAbort,
		"complete", "incomplete", "invalid", "unknown":
		return true
	}
	return false
}

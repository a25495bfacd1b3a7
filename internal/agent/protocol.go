// Package agent implements the daemon side of the line-delimited
// protocol spoken with the instrumentation agent injected into a
// debuggee: the daemon is authoritative (it decides what to hook, the
// agent only reports), and every message is one JSON object terminated
// by a newline.
package agent

import "github.com/strobehq/strobe/internal/types"

// MessageType tags the envelope's payload so a single frame type can
// carry every daemon<->agent message.
type MessageType string

const (
	// Daemon -> agent
	MsgInitialize    MessageType = "initialize"
	MsgHooks         MessageType = "hooks"
	MsgSetBreakpoint MessageType = "set_breakpoint"
	MsgResume        MessageType = "resume"
	MsgMemoryRequest MessageType = "memory_request"

	// Agent -> daemon
	MsgAgentLoaded  MessageType = "agent_loaded"
	MsgInitialized  MessageType = "initialized"
	MsgHooksUpdated MessageType = "hooks_updated"
	MsgEvents       MessageType = "events"
	MsgPaused       MessageType = "paused"
	MsgMemoryResult MessageType = "memory_result"
)

// Envelope is the on-wire frame: Type selects which of the optional
// fields below is populated.
type Envelope struct {
	Type MessageType `json:"type"`

	// initialize
	ProjectRoot string `json:"projectRoot,omitempty"`

	// hooks (daemon -> agent): the fully resolved function set to hook.
	Functions []string `json:"functions,omitempty"`

	// set_breakpoint
	Breakpoint *types.Breakpoint `json:"breakpoint,omitempty"`

	// resume
	ThreadID int64 `json:"threadId,omitempty"`
	OneShot  bool  `json:"oneShot,omitempty"`

	// hooks_updated
	Installed []string `json:"installed,omitempty"`
	Rejected  []string `json:"rejected,omitempty"`

	// events
	Events []*types.Event `json:"events,omitempty"`

	// paused
	BreakpointID string        `json:"breakpointId,omitempty"`
	Frame        *types.Frame  `json:"frame,omitempty"`
	Arguments    []types.Value `json:"arguments,omitempty"`
	Backtrace    []types.Frame `json:"backtrace,omitempty"`

	// memory_request (daemon -> agent) / memory_result (agent -> daemon)
	MemoryTargets []types.MemoryTarget `json:"memoryTargets,omitempty"`
	MemoryResults []types.MemoryResult `json:"memoryResults,omitempty"`
}

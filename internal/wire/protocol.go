// Package wire carries remote graph commands as newline-delimited JSON
// request/response pairs over a stream socket.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Request is one command sent to the authority.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	OK     bool            `json:"ok"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *Fault          `json:"fault,omitempty"`
}

// Command names understood by the authority.
const (
	CmdPing          = "ping"
	CmdFetchByFilter = "fetch_by_filter"
	CmdGetNode       = "get_node"
	CmdCreateNode    = "create_node"
	CmdLink          = "link"
	CmdUnlink        = "unlink"
	CmdConfirmEdge   = "confirm_edge"
	CmdListTargets   = "list_targets"
	CmdListSources   = "list_sources"
	CmdListEdgesTo   = "list_edges_to"
	CmdListEdges     = "list_edges"
	CmdUpdateField   = "update_field"
	CmdConvertType   = "convert_type"
	CmdSoftDelete    = "soft_delete"
	CmdHardDelete    = "hard_delete"
)

// Fault codes. Anything else is reported as CodeInternal.
const (
	CodeNotFound      = "not_found"
	CodeDuplicateEdge = "duplicate_edge"
	CodeCycle         = "cycle"
	CodeValidation    = "validation"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
)

// Fault is an application-level failure reported by the authority.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Fault) Error() string { return fmt.Sprintf("%s: %s", f.Code, f.Message) }

// NewFault builds a Fault with a formatted message.
func NewFault(code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsFault returns err as a Fault, wrapping unknown errors as internal.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: CodeInternal, Message: err.Error()}
}

// DefaultSocketPath returns the default Unix socket of the authority daemon.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/graphcore.sock"
	}
	return filepath.Join(home, ".graphcore", "graphcore.sock")
}

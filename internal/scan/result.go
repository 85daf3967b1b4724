package scan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anstrom/scanconsole/internal/errors"
)

// Kind tags which shape a Result carries.
type Kind string

const (
	KindPorts     Kind = "ports"
	KindProtocols Kind = "protocols"
	KindOS        Kind = "os"
	KindError     Kind = "error"
)

// PortStatus is the per-port verdict. Statuses outside the known set are kept
// verbatim.
type PortStatus string

const (
	StatusOpen           PortStatus = "Open"
	StatusClosed         PortStatus = "Closed"
	StatusFiltered       PortStatus = "Filtered"
	StatusOpenFiltered   PortStatus = "Open|Filtered"
	StatusClosedFiltered PortStatus = "Closed|Filtered"
	StatusUnfiltered     PortStatus = "Unfiltered"
	StatusError          PortStatus = "Error"
)

// IsFiltered reports whether the status mentions filtering. Unfiltered does not
// count: the match is on the capitalised word.
func (s PortStatus) IsFiltered() bool {
	return strings.Contains(string(s), "Filtered")
}

// PortResult is one row of a port scan. A row decoded from the backend keeps
// its original bytes and marshals back to them, so fields this type does not
// model survive an export.
type PortResult struct {
	Port      int        `json:"port"`
	Status    PortStatus `json:"status"`
	LatencyMs *float64   `json:"latency_ms,omitempty"`
	Detail    string     `json:"detail,omitempty"`

	raw json.RawMessage
}

type portResultFields PortResult

// UnmarshalJSON decodes the known fields and keeps the element as received.
func (p *PortResult) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var fields portResultFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = PortResult(fields)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON replays the received element when there is one.
func (p PortResult) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(portResultFields(p))
}

// Latency is a latency the backend sends either as a number or as a string.
// The text is kept as received.
type Latency string

// UnmarshalJSON accepts a JSON string, number or null.
func (l *Latency) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = Latency(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("latency_ms must be a string or a number: %w", err)
	}
	*l = Latency(n.String())
	return nil
}

// ProtocolResult is one row of an IP protocol scan.
type ProtocolResult struct {
	Number    int     `json:"protocol_number"`
	Name      string  `json:"protocol_name"`
	Status    string  `json:"status"`
	LatencyMs Latency `json:"latency_ms,omitempty"`
}

// ProtocolScan is the IP protocol scan result.
type ProtocolScan struct {
	Protocols []ProtocolResult `json:"protocols"`
}

// OSResult is the OS detection result.
type OSResult struct {
	Guess  string `json:"os_guess"`
	Detail string `json:"detail"`
}

// Result is the classified outcome of one submission. Exactly one of Ports,
// Protocols, OS and Err is meaningful, selected by Kind.
type Result struct {
	Kind      Kind              `json:"kind"`
	Target    string            `json:"target"`
	ScanType  Type              `json:"scan_type"`
	Ports     []PortResult      `json:"ports,omitempty"`
	Protocols *ProtocolScan     `json:"protocols,omitempty"`
	OS        *OSResult         `json:"os,omitempty"`
	Err       *errors.ScanError `json:"-"`
}

// Classify decodes a 2xx backend body in fixed priority: an error field, a
// JSON array of ports, a protocols field, an os_guess field. Anything else,
// including invalid JSON, is an Unexpected error.
func Classify(body []byte) (Result, *errors.ScanError) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, errors.ErrUnexpected("", errors.MsgUnrecognizedShape, err)
	}

	switch v := raw.(type) {
	case []interface{}:
		var ports []PortResult
		if err := json.Unmarshal(body, &ports); err != nil {
			return Result{}, errors.ErrUnexpected("", "malformed port results", err)
		}
		if ports == nil {
			ports = []PortResult{}
		}
		return Result{Kind: KindPorts, Ports: ports}, nil

	case map[string]interface{}:
		if msg, ok := v["error"]; ok && truthy(msg) {
			return Result{}, errors.ErrUnexpected("", errorText(msg), nil)
		}
		if p, ok := v["protocols"]; ok && truthy(p) {
			var scan ProtocolScan
			if err := json.Unmarshal(body, &scan); err != nil {
				return Result{}, errors.ErrUnexpected("", "malformed protocol results", err)
			}
			return Result{Kind: KindProtocols, Protocols: &scan}, nil
		}
		if g, ok := v["os_guess"]; ok && truthy(g) {
			var os OSResult
			if err := json.Unmarshal(body, &os); err != nil {
				return Result{}, errors.ErrUnexpected("", "malformed OS detection result", err)
			}
			return Result{Kind: KindOS, OS: &os}, nil
		}
	}

	return Result{}, errors.ErrUnexpected("", errors.MsgUnrecognizedShape, nil)
}

// truthy treats null, false, "" and 0 as absent
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func errorText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

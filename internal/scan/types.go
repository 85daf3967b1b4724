// Package scan builds scan requests for the backend, classifies its untyped
// responses and dispatches submissions with a per-target single-flight guard.
package scan

import (
	"fmt"
	"strings"
)

// Type is one of the scan variants the backend implements.
type Type int

const (
	TypeUnknown Type = iota
	TypeTCPConnect
	TypeTCPSYN
	TypeTCPFIN
	TypeTCPXmas
	TypeTCPNull
	TypeTCPACK
	TypeTCPWindow
	TypeUDP
	TypeIdle
	TypeIPProtocol
	TypeOSDetection
)

type typeInfo struct {
	wire        string
	slug        string
	description string
}

var types = map[Type]typeInfo{
	TypeTCPConnect:  {"TCP Connect", "tcp-connect", "Complete TCP three-way handshake"},
	TypeTCPSYN:      {"TCP SYN", "tcp-syn", "Half-open SYN scan (stealth)"},
	TypeTCPFIN:      {"TCP FIN", "tcp-fin", "FIN flag scan for firewall bypass"},
	TypeTCPXmas:     {"TCP Xmas", "tcp-xmas", "FIN, PSH and URG flags set"},
	TypeTCPNull:     {"TCP Null", "tcp-null", "No flags set"},
	TypeTCPACK:      {"TCP ACK", "tcp-ack", "ACK flag for firewall detection"},
	TypeTCPWindow:   {"TCP Window", "tcp-window", "Window size analysis"},
	TypeUDP:         {"UDP", "udp", "UDP port scanning"},
	TypeIdle:        {"Idle", "idle", "Zombie host stealth scan"},
	TypeIPProtocol:  {"IP Protocol Scan", "ip-protocol", "Detect supported IP protocols"},
	TypeOSDetection: {"OS-Detection", "os-detection", "Guess OS using packet TTL"},
}

// Category groups variants the way the catalog presents them.
type Category struct {
	Title string `json:"title"`
	Types []Type `json:"types"`
}

var catalog = []Category{
	{Title: "Connection-Based", Types: []Type{TypeTCPConnect, TypeTCPSYN, TypeTCPFIN}},
	{Title: "Xmas & Flag-Based", Types: []Type{TypeTCPXmas, TypeTCPNull, TypeTCPACK}},
	{Title: "Advanced", Types: []Type{TypeTCPWindow, TypeUDP, TypeIdle}},
	{Title: "Host Discovery", Types: []Type{TypeIPProtocol, TypeOSDetection}},
}

// Catalog returns the scan variants grouped by category.
func Catalog() []Category {
	out := make([]Category, len(catalog))
	for i, c := range catalog {
		out[i] = Category{Title: c.Title, Types: append([]Type(nil), c.Types...)}
	}
	return out
}

// Types returns every variant in catalog order.
func Types() []Type {
	var all []Type
	for _, c := range catalog {
		all = append(all, c.Types...)
	}
	return all
}

// ParseType accepts a slug ("tcp-syn") or a wire name ("TCP SYN"), ignoring case.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for t, info := range types {
		if strings.EqualFold(s, info.slug) || strings.EqualFold(s, info.wire) {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown scan type %q", s)
}

// String returns the wire name sent to the backend.
func (t Type) String() string {
	if info, ok := types[t]; ok {
		return info.wire
	}
	return "unknown"
}

// Slug returns the CLI and URL form of the variant.
func (t Type) Slug() string {
	return types[t].slug
}

// Description returns the catalog blurb.
func (t Type) Description() string {
	return types[t].description
}

// Title is the heading shown on the scan form.
func (t Type) Title() string {
	if t == TypeIPProtocol || t == TypeOSDetection {
		return t.String()
	}
	return t.String() + " Scan"
}

// Valid reports whether t is a known variant.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// RequiresPorts reports whether requests of this variant carry a port spec.
func (t Type) RequiresPorts() bool {
	return t != TypeIPProtocol && t != TypeOSDetection
}

// RequiresZombie reports whether requests of this variant carry a zombie host.
func (t Type) RequiresZombie() bool {
	return t == TypeIdle
}

// MarshalText encodes the wire name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid scan type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a wire name or slug.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Set implements pflag.Value.
func (t *Type) Set(s string) error {
	return t.UnmarshalText([]byte(s))
}

// Type implements pflag.Value.
func (t *Type) Type() string {
	return "scanType"
}

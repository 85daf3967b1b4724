package scan

import "strings"

// Request is the body of POST /scan. Ports and ZombieIP are present or absent
// according to the variant, never according to whether the value is empty.
type Request struct {
	TargetIP string  `json:"target_ip"`
	ScanType Type    `json:"scan_type"`
	Ports    *string `json:"ports,omitempty"`
	ZombieIP *string `json:"zombie_ip,omitempty"`
}

// BuildRequest turns a form into a wire request. The form should have been
// validated first.
func BuildRequest(f Form) Request {
	req := Request{
		TargetIP: strings.TrimSpace(f.Target),
		ScanType: f.Type,
	}
	if f.Type.RequiresPorts() {
		ports := strings.TrimSpace(f.Ports)
		req.Ports = &ports
	}
	if f.Type.RequiresZombie() {
		zombie := strings.TrimSpace(f.ZombieIP)
		req.ZombieIP = &zombie
	}
	return req
}

package scan

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/scanconsole/internal/errors"
)

// DefaultPorts is the port spec used when the operator gives none.
const DefaultPorts = "1-100"

const maxPort = 65535

// Form is what the operator fills in before a submission.
type Form struct {
	Target   string `json:"target_ip" validate:"required"`
	Type     Type   `json:"scan_type" validate:"required"`
	Ports    string `json:"ports,omitempty"`
	ZombieIP string `json:"zombie_ip,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("portspec", func(fl validator.FieldLevel) bool {
		return ValidatePorts(fl.Field().String()) == nil
	})
	v.RegisterStructValidation(formStructLevel, Form{})
	return v
}

// formStructLevel applies the per-variant field rules. The target is only
// checked for presence; the backend judges its shape.
func formStructLevel(sl validator.StructLevel) {
	f := sl.Current().Interface().(Form)
	if f.Target != "" && strings.TrimSpace(f.Target) == "" {
		sl.ReportError(f.Target, "Target", "Target", "required", "")
	}
	if !f.Type.Valid() {
		sl.ReportError(f.Type, "Type", "Type", "scantype", "")
		return
	}
	if f.Type.RequiresPorts() {
		if strings.TrimSpace(f.Ports) == "" {
			sl.ReportError(f.Ports, "Ports", "Ports", "required", "")
		} else if ValidatePorts(f.Ports) != nil {
			sl.ReportError(f.Ports, "Ports", "Ports", "portspec", "")
		}
	}
	if f.Type.RequiresZombie() {
		if strings.TrimSpace(f.ZombieIP) == "" {
			sl.ReportError(f.ZombieIP, "ZombieIP", "ZombieIP", "required", "")
		} else if net.ParseIP(strings.TrimSpace(f.ZombieIP)) == nil {
			sl.ReportError(f.ZombieIP, "ZombieIP", "ZombieIP", "ip", "")
		}
	}
}

// Validate checks the form. A failure blocks the submission before it reaches
// the dispatcher.
func (f Form) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.WrapScanError(errors.CodeValidation, "invalid scan form", f.Target, err)
	}
	return errors.NewScanErrorWithTarget(errors.CodeValidation, fieldMessage(verrs[0], f), f.Target).
		WithContext("field", verrs[0].Field())
}

func fieldMessage(fe validator.FieldError, f Form) string {
	switch fe.Field() {
	case "Target":
		return "Target IP address is required"
	case "Type":
		return "Unknown scan type"
	case "Ports":
		if fe.Tag() == "required" {
			return "Port specification is required for " + f.Type.String()
		}
		if err := ValidatePorts(f.Ports); err != nil {
			return err.Error()
		}
		return "Invalid port specification"
	case "ZombieIP":
		if fe.Tag() == "required" {
			return "Zombie IP address is required for Idle scans"
		}
		return fmt.Sprintf("Invalid zombie IP address %q", f.ZombieIP)
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ValidatePorts checks a port spec: single ports, comma lists and dash ranges,
// each port within 1..65535 and each range ascending.
func ValidatePorts(ports string) error {
	if strings.TrimSpace(ports) == "" {
		return fmt.Errorf("empty port specification")
	}

	for _, part := range strings.Split(ports, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty entry in port specification %q", ports)
		}

		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return fmt.Errorf("invalid port range: %s", part)
			}
			start, err := parsePort(bounds[0])
			if err != nil {
				return fmt.Errorf("invalid start port in range: %s", part)
			}
			end, err := parsePort(bounds[1])
			if err != nil {
				return fmt.Errorf("invalid end port in range: %s", part)
			}
			if start > end {
				return fmt.Errorf("start port cannot be greater than end port: %s", part)
			}
			continue
		}

		if _, err := parsePort(part); err != nil {
			return fmt.Errorf("invalid port: %s", part)
		}
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if port < 1 || port > maxPort {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// IsIPLiteral reports whether target is already an IP address.
func IsIPLiteral(target string) bool {
	return net.ParseIP(target) != nil
}

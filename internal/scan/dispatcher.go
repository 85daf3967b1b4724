package scan

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/anstrom/scanconsole/internal/backend"
	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
)

// Backend submits scan requests.
type Backend interface {
	Scan(ctx context.Context, credential string, payload interface{}) (json.RawMessage, error)
}

// Session is the read side of the session plus the logout used when the
// backend rejects the credential.
type Session interface {
	Credential() (string, bool)
	Logout(ctx context.Context) error
}

// Publisher receives every classified, non-error result.
type Publisher interface {
	Publish(ctx context.Context, result Result) error
}

// Resolver turns a hostname target into an IP literal.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// Slots hold the output of the most recent submission. At most one of Ports,
// Protocols, OS and Err is set.
type Slots struct {
	Target    string            `json:"target,omitempty"`
	ScanType  Type              `json:"scan_type,omitempty"`
	Ports     []PortResult      `json:"ports,omitempty"`
	Protocols *ProtocolScan     `json:"protocols,omitempty"`
	OS        *OSResult         `json:"os,omitempty"`
	Err       *errors.ScanError `json:"-"`
}

// Empty reports whether no slot is populated.
func (s Slots) Empty() bool {
	return s.Ports == nil && s.Protocols == nil && s.OS == nil && s.Err == nil
}

// Dispatcher submits scans on behalf of the operator.
type Dispatcher struct {
	backend        Backend
	session        Session
	resolver       Resolver
	publishers     []Publisher
	clearOnExpired bool
	recorder       metrics.Recorder
	logger         *logging.Logger
	now            func() time.Time

	mu       sync.Mutex
	slots    Slots
	inFlight map[string]struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClearOnExpired controls whether a 401 from the backend logs the session
// out. Enabled by default.
func WithClearOnExpired(clear bool) DispatcherOption {
	return func(d *Dispatcher) { d.clearOnExpired = clear }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithPublisher adds a result publisher.
func WithPublisher(p Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.publishers = append(d.publishers, p) }
}

// WithResolver resolves hostname targets in SubmitForm.
func WithResolver(r Resolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(b Backend, s Session, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		backend:        b,
		session:        s,
		clearOnExpired: true,
		recorder:       metrics.Noop{},
		logger:         logging.Default(),
		now:            time.Now,
		inFlight:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("dispatcher")
	return d
}

// SubmitForm validates the form, resolves a hostname target when a resolver is
// configured, and submits the resulting request.
func (d *Dispatcher) SubmitForm(ctx context.Context, f Form) (Result, error) {
	if err := f.Validate(); err != nil {
		d.recorder.ScanRejected(f.Type.String(), string(errors.CodeValidation))
		return Result{}, err
	}
	if d.resolver != nil && !IsIPLiteral(f.Target) {
		ip, err := d.resolver.Resolve(ctx, f.Target)
		if err != nil {
			d.recorder.ScanRejected(f.Type.String(), string(errors.CodeResolution))
			return Result{}, errors.WrapScanError(errors.CodeResolution, "could not resolve target", f.Target, err)
		}
		d.logger.Debug("resolved target", "host", f.Target, "ip", ip)
		f.Target = ip
	}
	return d.Submit(ctx, BuildRequest(f))
}

// Submit sends one request. A second submission for a target that is still in
// flight is rejected with IN_FLIGHT and leaves the slots untouched. Otherwise
// the slots are cleared, the request is sent and exactly one slot is
// populated with the outcome. Error outcomes are returned both in the Result
// and as the error.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Result, error) {
	scanType := req.ScanType.String()
	target := req.TargetIP

	if !d.acquire(target) {
		d.recorder.ScanRejected(scanType, string(errors.CodeInFlight))
		d.logger.Warn("submission rejected, scan already in flight", "target", target, "scan_type", scanType)
		return Result{}, errors.ErrInFlight(target)
	}
	defer d.release(target)

	credential, ok := d.session.Credential()
	if !ok {
		d.recorder.ScanRejected(scanType, string(errors.CodeAuthRequired))
		return d.fail(req, errors.ErrAuthRequired(target))
	}

	d.recorder.ScanStarted(scanType)
	start := d.now()
	body, err := d.backend.Scan(ctx, credential, req)
	elapsed := d.now().Sub(start)

	var result Result
	var scanErr *errors.ScanError
	if err != nil {
		scanErr = transportError(target, err)
	} else {
		result, scanErr = Classify(body)
	}

	if scanErr != nil {
		scanErr.Target = target
		d.recorder.ScanCompleted(scanType, string(scanErr.Code), elapsed)
		if scanErr.Code == errors.CodeAuthExpired && d.clearOnExpired {
			if lerr := d.session.Logout(ctx); lerr != nil {
				d.logger.ErrorScan("failed to clear expired session", target, lerr)
			}
		}
		return d.fail(req, scanErr)
	}

	result.Target = target
	result.ScanType = req.ScanType
	d.recorder.ScanCompleted(scanType, string(result.Kind), elapsed)
	d.populate(result)
	d.logger.InfoScan("scan completed", target, "scan_type", scanType, "kind", result.Kind, "duration", elapsed)
	d.publish(ctx, result)
	return result, nil
}

// Slots returns a copy of the current slots.
func (d *Dispatcher) Slots() Slots {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.slots
	if d.slots.Ports != nil {
		out.Ports = append([]PortResult(nil), d.slots.Ports...)
	}
	return out
}

// InFlight reports whether a submission for target is awaiting the backend.
func (d *Dispatcher) InFlight(target string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[target]
	return ok
}

func (d *Dispatcher) acquire(target string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[target]; busy {
		return false
	}
	d.inFlight[target] = struct{}{}
	d.slots = Slots{}
	return true
}

func (d *Dispatcher) release(target string) {
	d.mu.Lock()
	delete(d.inFlight, target)
	d.mu.Unlock()
}

func (d *Dispatcher) populate(r Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Slots{Target: r.Target, ScanType: r.ScanType}
	switch r.Kind {
	case KindPorts:
		s.Ports = append([]PortResult{}, r.Ports...)
	case KindProtocols:
		s.Protocols = r.Protocols
	case KindOS:
		s.OS = r.OS
	case KindError:
		s.Err = r.Err
	}
	d.slots = s
}

func (d *Dispatcher) fail(req Request, scanErr *errors.ScanError) (Result, error) {
	result := Result{Kind: KindError, Target: req.TargetIP, ScanType: req.ScanType, Err: scanErr}
	d.populate(result)
	d.logger.ErrorScan("scan failed", req.TargetIP, scanErr, "scan_type", req.ScanType.String())
	return result, scanErr
}

func (d *Dispatcher) publish(ctx context.Context, r Result) {
	for _, p := range d.publishers {
		if err := p.Publish(ctx, r); err != nil {
			d.logger.ErrorScan("failed to publish result", r.Target, err)
		}
	}
}

// transportError maps a failed backend call. 401 always means the credential
// was rejected, whatever the body says.
func transportError(target string, err error) *errors.ScanError {
	var apiErr *backend.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized {
			return errors.ErrAuthExpired(target, err).WithContext("status", apiErr.StatusCode)
		}
		return errors.ErrUnexpected(target, apiErr.Error(), err).WithContext("status", apiErr.StatusCode)
	}
	return errors.ErrUnexpected(target, err.Error(), err)
}

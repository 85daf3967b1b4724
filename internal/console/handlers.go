package console

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/export"
	"github.com/anstrom/scanconsole/internal/guard"
	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/session"
)

const maxBodyBytes = 1 << 16

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Code      errors.ErrorCode `json:"code,omitempty"`
	Login     string           `json:"login,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// SessionResponse is the session state as the console presents it.
type SessionResponse struct {
	session.State
	LastLoginDisplay string `json:"last_login_display,omitempty"`
}

// ResultsResponse mirrors the dispatcher slots.
type ResultsResponse struct {
	scan.Slots
	Error *ErrorResponse `json:"error,omitempty"`
}

// CatalogEntry describes one scan variant.
type CatalogEntry struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// CatalogCategory groups catalog entries.
type CatalogCategory struct {
	Title string         `json:"title"`
	Scans []CatalogEntry `json:"scans"`
}

// FormDescriptor tells a client which fields a scan form shows.
type FormDescriptor struct {
	Title          string `json:"title"`
	ScanType       string `json:"scan_type"`
	Slug           string `json:"slug"`
	RequiresPorts  bool   `json:"requires_ports"`
	RequiresZombie bool   `json:"requires_zombie"`
	DefaultPorts   string `json:"default_ports,omitempty"`
	Submit         string `json:"submit"`
}

type scanBody struct {
	TargetIP string  `json:"target_ip"`
	Ports    *string `json:"ports"`
	ZombieIP string  `json:"zombie_ip"`
}

func (s *Server) sessionResponse(state session.State) SessionResponse {
	resp := SessionResponse{State: state}
	if state.IsAuthenticated {
		resp.LastLoginDisplay = state.LastLoginDisplay()
	}
	return resp
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var form session.CredentialsForm
	if err := s.parseJSON(r, &form); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}
	if err := form.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}

	state, err := s.session.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, errors.GetCode(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.sessionResponse(state))
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var form session.CredentialsForm
	if err := s.parseJSON(r, &form); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}
	if err := form.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}
	s.writeOutcome(w, r, s.session.Register(r.Context(), form.Email, form.Password))
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var form session.VerifyForm
	if err := s.parseJSON(r, &form); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}
	if err := form.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}
	s.writeOutcome(w, r, s.session.Verify(r.Context(), form.Email, form.OTP))
}

// writeOutcome reports failed register/verify outcomes as 400 with the same
// body shape as successes.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out session.Outcome) {
	status := http.StatusOK
	if !out.Success {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, r, status, out)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, errors.GetCode(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.sessionResponse(s.session.State()))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.sessionResponse(s.session.State()))
}

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	scanType, err := scan.ParseType(mux.Vars(r)["scanType"])
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, errors.CodeValidation, err)
		return
	}

	var body scanBody
	if err := s.parseJSON(r, &body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeValidation, err)
		return
	}

	form := scan.Form{Target: body.TargetIP, Type: scanType, ZombieIP: body.ZombieIP}
	switch {
	case body.Ports != nil:
		form.Ports = *body.Ports
	case scanType.RequiresPorts():
		form.Ports = scan.DefaultPorts
	}

	result, err := s.scans.SubmitForm(r.Context(), form)
	if err != nil {
		s.writeError(w, r, scanStatus(err), errors.GetCode(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// scanStatus maps a submission error to an HTTP status.
func scanStatus(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeAuthRequired, errors.CodeAuthExpired:
		return http.StatusUnauthorized
	case errors.CodeInFlight:
		return http.StatusConflict
	case errors.CodeResolution:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	slots := s.scans.Slots()
	resp := ResultsResponse{Slots: slots}
	if slots.Err != nil {
		resp.Error = &ErrorResponse{Error: slots.Err.Message, Code: slots.Err.Code}
		if errors.IsAuthProblem(slots.Err) {
			resp.Error.Login = guard.LoginPath
		}
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, errors.CodeValidation, err)
		return
	}

	slots := s.scans.Slots()
	if len(slots.Ports) == 0 {
		s.writeError(w, r, http.StatusBadRequest, errors.CodeNothingToExport, errors.ErrNothingToExport)
		return
	}

	now := s.now()
	data, err := export.Render(format, slots.Target, slots.Ports, now)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, errors.GetCode(err), err)
		return
	}
	s.recorder.ExportWritten(string(format))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(slots.Target, format, now)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	categories := scan.Catalog()
	out := make([]CatalogCategory, 0, len(categories))
	for _, c := range categories {
		cat := CatalogCategory{Title: c.Title}
		for _, t := range c.Types {
			cat.Scans = append(cat.Scans, CatalogEntry{
				Name:        t.String(),
				Slug:        t.Slug(),
				Description: t.Description(),
				Path:        "/scan/" + t.Slug(),
			})
		}
		out = append(out, cat)
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) formHandler(w http.ResponseWriter, r *http.Request) {
	scanType, err := scan.ParseType(mux.Vars(r)["scanType"])
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, errors.CodeValidation, err)
		return
	}

	desc := FormDescriptor{
		Title:          scanType.Title(),
		ScanType:       scanType.String(),
		Slug:           scanType.Slug(),
		RequiresPorts:  scanType.RequiresPorts(),
		RequiresZombie: scanType.RequiresZombie(),
		Submit:         "/api/scan/" + scanType.Slug(),
	}
	if desc.RequiresPorts {
		desc.DefaultPorts = scan.DefaultPorts
	}
	s.writeJSON(w, r, http.StatusOK, desc)
}

// loginViewHandler echoes where the caller was going so a client can return
// there after logging in.
func (s *Server) loginViewHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"from":             r.URL.Query().Get("from"),
		"is_authenticated": s.session.IsAuthenticated(),
		"submit":           "/api/login",
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"clients":   s.hub.Clients(),
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

// writeError writes a standardized error response. Auth problems carry the
// login location.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, code errors.ErrorCode, err error) {
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("Console error", "path", r.URL.Path, "status", statusCode, "error", err)
	}

	resp := ErrorResponse{
		Error:     message(err),
		Code:      code,
		RequestID: requestID(r),
	}
	if code == errors.CodeAuthRequired || code == errors.CodeAuthExpired {
		resp.Login = guard.LoginRedirect(r.URL.RequestURI())
	}
	s.writeJSON(w, r, statusCode, resp)
}

// message strips the code prefix scan errors carry in Error().
func message(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Message
	}
	return err.Error()
}

// parseJSON decodes a bounded request body.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

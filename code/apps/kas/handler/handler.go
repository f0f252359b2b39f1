package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/goblimey/go-kas-tracker/code/pkg/config"
	"github.com/goblimey/go-kas-tracker/code/pkg/credential"
	"github.com/goblimey/go-kas-tracker/code/pkg/forms"
	"github.com/goblimey/go-kas-tracker/code/pkg/forward"
	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

type Handler struct {
	Conf        *config.Config         // The incoming config.
	Repo        *repository.Repository // The tables.
	Credentials *credential.Service    // Checks logins.
	Hasher      *credential.Hasher     // Makes password digests for new users.
	Tokens      *credential.Tokens     // Issues and checks bearer tokens.
	Notifier    forward.Notifier       // Tells the collaborator about payments.  May be nil.
	Logger      *slog.Logger           // The daily logger.
	Now         func() time.Time       // The clock.
}

func New(
	conf *config.Config,
	repo *repository.Repository,
	credentials *credential.Service,
	tokens *credential.Tokens,
	notifier forward.Notifier,
	logger *slog.Logger,
) *Handler {

	if logger == nil {
		logger = slog.Default()
	}

	h := Handler{
		Conf:        conf,
		Repo:        repo,
		Credentials: credentials,
		Hasher:      credentials.Hasher,
		Tokens:      tokens,
		Notifier:    notifier,
		Logger:      logger,
		Now:         time.Now,
	}

	return &h
}

// Routes returns the handler for all the endpoints, wrapped in the
// middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /data", h.GetMembers)
	mux.HandleFunc("GET /berita", h.GetNews)
	mux.HandleFunc("GET /berita/{id}", h.GetNewsItem)
	mux.HandleFunc("GET /draft", h.GetDrafts)
	mux.HandleFunc("POST /draft", h.requireToken("", h.SaveDraft))
	mux.HandleFunc("POST /approve", h.requireToken(repository.AdminRole, h.Approve))
	mux.HandleFunc("POST /update_data", h.requireToken(repository.AdminRole, h.UpdateData))
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("PUT /update-role", h.UpdateRole)

	return h.withRequestID(h.recoverPanic(h.securityHeaders(mux)))
}

// Health handles the /healthz request.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// GetMembers handles GET /data - the member directory.
func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Repo.Members(r.Context())
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: members})
}

// GetNews handles GET /berita.
func (h *Handler) GetNews(w http.ResponseWriter, r *http.Request) {
	news, err := h.Repo.News(r.Context())
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: news})
}

// GetNewsItem handles GET /berita/{id}.
func (h *Handler) GetNewsItem(w http.ResponseWriter, r *http.Request) {
	id, convError := strconv.Atoi(r.PathValue("id"))
	if convError != nil {
		h.reportError(w, r, fmt.Errorf("%w: bad id %q", forms.ErrValidation, r.PathValue("id")))
		return
	}

	item, err := h.Repo.NewsByID(r.Context(), id)
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: item})
}

// GetDrafts handles GET /draft.
func (h *Handler) GetDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.Repo.Drafts(r.Context())
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: drafts})
}

// SaveDraft handles POST /draft - a member checks in a payment that waits
// for approval.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var form forms.CashForm
	if err := decodeAndValidate(r, &form, func() error { return form.Validate(true) }); err != nil {
		h.reportError(w, r, err)
		return
	}

	draft, err := h.Repo.UpdateDraft(r.Context(), form.Name, float64(form.Amount), string(form.ParsedStatus))
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.Logger.Info("draft saved", "requestId", requestID(r.Context()),
		"name", form.Name, "amount", float64(form.Amount), "status", string(form.ParsedStatus))

	h.notify(r.Context(), forward.Event{
		Kind: forward.KindDraft, Name: form.Name, Amount: float64(form.Amount), Status: string(form.ParsedStatus),
	})

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: draft})
}

// Approve handles POST /approve.  An approved payment is added to the
// member's total and their draft is cleared.  Any other status is just
// recorded against the draft.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var form forms.CashForm
	if err := decodeAndValidate(r, &form, func() error { return form.Validate(true) }); err != nil {
		h.reportError(w, r, err)
		return
	}

	if form.ParsedStatus == repository.StatusApproved {
		h.updateCash(w, r, form)
		return
	}

	draft, err := h.Repo.UpdateDraft(r.Context(), form.Name, 0, string(form.ParsedStatus))
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	h.Logger.Info("draft status changed", "requestId", requestID(r.Context()),
		"name", form.Name, "status", string(form.ParsedStatus))

	h.notify(r.Context(), forward.Event{
		Kind: forward.KindDraft, Name: form.Name, Amount: 0, Status: string(form.ParsedStatus),
	})

	h.writeJSON(w, r, http.StatusOK, success{Success: true, Data: draft})
}

// UpdateData handles POST /update_data - adds a payment to the member's
// total and clears their draft.
func (h *Handler) UpdateData(w http.ResponseWriter, r *http.Request) {
	var form forms.CashForm
	if err := decodeAndValidate(r, &form, func() error { return form.Validate(false) }); err != nil {
		h.reportError(w, r, err)
		return
	}

	h.updateCash(w, r, form)
}

// updateCash does the work of UpdateData and of an approval.
func (h *Handler) updateCash(w http.ResponseWriter, r *http.Request, form forms.CashForm) {
	result, err := h.Repo.UpdateCashAmount(r.Context(), form.Name, float64(form.Amount))
	if err != nil && !errors.Is(err, repository.ErrDraftNotCleared) {
		h.reportError(w, r, err)
		return
	}

	if err != nil {
		// The payment is recorded, which is what matters.  The stale draft
		// is logged so that somebody can clear it by hand.
		h.Logger.Warn(err.Error(), "requestId", requestID(r.Context()))
	}

	h.Logger.Info("cash updated", "requestId", requestID(r.Context()),
		"name", form.Name, "amount", float64(form.Amount), "draftCleared", result.DraftCleared)

	h.notify(r.Context(), forward.Event{Kind: forward.KindCash, Name: form.Name, Amount: float64(form.Amount)})

	h.writeJSON(w, r, http.StatusOK, cashResult{Success: true, Data: result.Member, DraftCleared: result.DraftCleared})
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var form forms.LoginForm
	if err := decodeAndValidate(r, &form, form.Validate); err != nil {
		h.reportError(w, r, err)
		return
	}

	account, err := h.Credentials.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		h.reportError(w, r, err)
		return
	}

	token, tokenError := h.Tokens.Issue(account)
	if tokenError != nil {
		h.reportError(w, r, tokenError)
		return
	}

	// The checkin count is a record of attendance.  Failing to bump it
	// shouldn't stop the login.
	if err := h.Repo.RecordLoginSuccess(r.Context(), account.Identity, h.Now()); err != nil {
		h.Logger.Warn("login: checkin not recorded", "requestId", requestID(r.Context()),
			"username", account.Identity, "error", err)
	}

	h.Logger.Info("login", "requestId", requestID(r.Context()), "username", account.Identity, "role", account.Role)

	h.writeJSON(w, r, http.StatusOK, loginResult{Success: true, Role: account.Role, Token: token})
}

// Register handles POST /register.  With open registration anybody can
// register, and registering again replaces the password.  Otherwise an
// admin's username and password must be supplied and a duplicate is refused.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	needAdmin := !h.Conf.OpenRegistration

	var form forms.RegisterForm
	validate := func() error { return form.Validate(needAdmin) }
	if err := decodeAndValidate(r, &form, validate); err != nil {
		h.reportError(w, r, err)
		return
	}

	if needAdmin {
		if err := h.authoriseAdmin(r.Context(), form.AdminUsername, form.AdminPassword); err != nil {
			h.reportError(w, r, err)
			return
		}
	}

	digest, hashError := h.Hasher.Hash(form.Password)
	if hashError != nil {
		h.reportError(w, r, hashError)
		return
	}

	status := http.StatusCreated
	if needAdmin {
		if err := h.Repo.CreateCredential(r.Context(), form.Username, digest, form.Role); err != nil {
			h.reportError(w, r, err)
			return
		}
	} else {
		inserted, err := h.Repo.RegisterOrTouch(r.Context(), form.Username, digest)
		if err != nil {
			h.reportError(w, r, err)
			return
		}
		if !inserted {
			status = http.StatusOK
		}
	}

	h.Logger.Info("registered", "requestId", requestID(r.Context()), "username", form.Username)

	h.writeJSON(w, r, status, success{Success: true})
}

// UpdateRole handles PUT /update-role.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var form forms.RoleForm
	if err := decodeAndValidate(r, &form, form.Validate); err != nil {
		h.reportError(w, r, err)
		return
	}

	if err := h.authoriseAdmin(r.Context(), form.AdminUsername, form.AdminPassword); err != nil {
		h.reportError(w, r, err)
		return
	}

	if err := h.Repo.UpdateRole(r.Context(), form.Username, form.NewRole); err != nil {
		h.reportError(w, r, err)
		return
	}

	h.Logger.Info("role changed", "requestId", requestID(r.Context()),
		"admin", form.AdminUsername, "username", form.Username, "role", form.NewRole)

	h.writeJSON(w, r, http.StatusOK, success{Success: true})
}

// authoriseAdmin checks admin credentials supplied in a request body.  Bad
// credentials and the wrong role are both ErrForbidden here.
func (h *Handler) authoriseAdmin(ctx context.Context, username, password string) error {
	_, err := h.Credentials.Authorise(ctx, username, password, repository.AdminRole)
	if errors.Is(err, credential.ErrInvalidCredentials) {
		return errors.Join(credential.ErrForbidden, err)
	}
	return err
}

// notify sends the event on.  The local change has already been made, so a
// failure is only logged.
func (h *Handler) notify(ctx context.Context, event forward.Event) {
	if h.Notifier == nil {
		return
	}

	// The request may be finished before the collaborator answers.
	ctx = context.WithoutCancel(ctx)

	if err := h.Notifier.Notify(ctx, event); err != nil {
		h.Logger.Warn("forwarding failed", "requestId", requestID(ctx), "error", err)
	}
}

// reportError logs the error with the request id and sends the failure
// envelope.  Only a generic message goes to the client.
func (h *Handler) reportError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	id := requestID(r.Context())

	if status == http.StatusInternalServerError {
		h.Logger.Error(err.Error(), "requestId", id, "method", r.Method, "path", r.URL.Path)
	} else {
		h.Logger.Info(err.Error(), "requestId", id, "method", r.Method, "path", r.URL.Path, "status", status)
	}

	h.writeJSON(w, r, status, failure{Success: false, Error: message, RequestID: id})
}

// Fatal logs a fatal error to the structured log and exits.
func (h *Handler) Fatal(err error) {
	h.Logger.Error(err.Error())
	os.Exit(-1)
}

// statusFor maps an error to an HTTP status and the message for the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, credential.ErrAccountLocked):
		return http.StatusTooManyRequests, "AccountLocked"
	case errors.Is(err, credential.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, credential.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, credential.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, forms.ErrValidation), errors.Is(err, repository.ErrValidation):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, repository.ErrExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, table.ErrStorageUnavailable):
		return http.StatusInternalServerError, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// validationMessage gives the client the text of a validation error from a
// form, which names the bad field.  Errors from the repository may carry
// table names so they get a fixed message.
func validationMessage(err error) string {
	if errors.Is(err, forms.ErrValidation) {
		return err.Error()
	}
	return "invalid request"
}

// decodeAndValidate reads the JSON body into form and then runs validate.
func decodeAndValidate(r *http.Request, form any, validate func() error) error {
	if err := forms.Decode(r.Body, form); err != nil {
		return err
	}
	return validate()
}

// The response bodies.

type success struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type cashResult struct {
	Success      bool         `json:"success"`
	Data         table.Record `json:"data"`
	DraftCleared bool         `json:"draftCleared"`
}

type loginResult struct {
	Success bool   `json:"success"`
	Role    string `json:"role"`
	Token   string `json:"token"`
}

type failure struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON sends the body with the given status.  The body is encoded
// before anything is written, so a body that can't be encoded becomes a 500
// rather than a 200 with nothing after it.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		id := requestID(r.Context())
		h.Logger.Error("cannot encode response: "+err.Error(), "requestId", id, "method", r.Method, "path", r.URL.Path)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(failure{Success: false, Error: "internal error", RequestID: id})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

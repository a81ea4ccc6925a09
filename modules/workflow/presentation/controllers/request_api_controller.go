package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/modules/workflow/services"
	"github.com/buildforge/requestd/pkg/constants"
	"github.com/buildforge/requestd/pkg/httpapi"
)

type RequestAPIController struct {
	requests  *services.RequestService
	users     user.Repository
	log       *logrus.Logger
	apiPrefix string
}

func NewRequestAPIController(requests *services.RequestService, users user.Repository, log *logrus.Logger) *RequestAPIController {
	return &RequestAPIController{
		requests:  requests,
		users:     users,
		log:       log,
		apiPrefix: "/api",
	}
}

func (c *RequestAPIController) Key() string { return c.apiPrefix }

func (c *RequestAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/requests", c.Create).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/state", c.ChangeState).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/reviews", c.AddReview).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/reviews/state", c.ChangeReviewState).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/reviews/assign", c.AssignReview).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/diff", c.Diff).Methods(http.MethodGet)
}

// principal resolves the acting user from the X-Login header. Authentication
// proper happens upstream; this service only needs the identity.
func (c *RequestAPIController) principal(w http.ResponseWriter, r *http.Request) (*user.User, bool) {
	login := r.Header.Get("X-Login")
	if login == "" {
		_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing X-Login header", nil)
		return nil, false
	}
	u, err := c.users.GetUser(r.Context(), login)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "unknown user", nil)
			return nil, false
		}
		c.writeError(w, err)
		return nil, false
	}
	return u, true
}

func (c *RequestAPIController) requestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_ID", "request id must be numeric", nil)
		return 0, false
	}
	return id, true
}

func (c *RequestAPIController) decode(w http.ResponseWriter, r *http.Request, dto any) bool {
	if err := json.NewDecoder(r.Body).Decode(dto); err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body", nil)
		return false
	}
	if err := constants.Validate.Struct(dto); err != nil {
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (c *RequestAPIController) writeError(w http.ResponseWriter, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		_ = httpapi.WriteError(w, svcErr.Status, svcErr.Code, svcErr.Message, nil)
		return
	}
	if c.log != nil {
		c.log.WithError(err).Error("unhandled request API error")
	}
	_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (c *RequestAPIController) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	var dto CreateRequestDTO
	if !c.decode(w, r, &dto) {
		return
	}

	records := make([]*action.Record, 0, len(dto.Actions))
	for _, a := range dto.Actions {
		records = append(records, a.toRecord())
	}
	req, err := c.requests.Create(r.Context(), principal, records, dto.Description)
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, toRequestResponse(req))
}

func (c *RequestAPIController) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	req, err := c.requests.Get(r.Context(), principal, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (c *RequestAPIController) ChangeState(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	var dto ChangeStateDTO
	if !c.decode(w, r, &dto) {
		return
	}

	err := c.requests.ChangeState(r.Context(), principal, id, request.State(dto.State), services.StateChangeOpts{
		Force:        dto.Force,
		SupersededBy: dto.SupersededBy,
		Comment:      dto.Comment,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]string{"state": dto.State})
}

func (c *RequestAPIController) AddReview(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	var dto AddReviewDTO
	if !c.decode(w, r, &dto) {
		return
	}

	if err := c.requests.AddReview(r.Context(), principal, id, dto.Ref.toRef(), dto.Comment); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RequestAPIController) ChangeReviewState(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	var dto ChangeReviewStateDTO
	if !c.decode(w, r, &dto) {
		return
	}

	err := c.requests.ChangeReviewState(r.Context(), principal, id, dto.Ref.toRef(),
		request.ReviewState(dto.State), dto.Comment)
	if err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RequestAPIController) AssignReview(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	var dto AssignReviewDTO
	if !c.decode(w, r, &dto) {
		return
	}

	if err := c.requests.AssignReview(r.Context(), principal, id, dto.From.toRef(), dto.To.toRef()); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RequestAPIController) Diff(w http.ResponseWriter, r *http.Request) {
	principal, ok := c.principal(w, r)
	if !ok {
		return
	}
	id, ok := c.requestID(w, r)
	if !ok {
		return
	}
	diff, err := c.requests.Diff(r.Context(), principal, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diff))
}

package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	backendhttp "github.com/buildforge/requestd/modules/workflow/infrastructure/backend"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence/memory"
	"github.com/buildforge/requestd/modules/workflow/permissions"
	"github.com/buildforge/requestd/modules/workflow/presentation/controllers"
	"github.com/buildforge/requestd/modules/workflow/services"
	"github.com/buildforge/requestd/pkg/httpapi"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	ctx := context.Background()

	targets := memory.NewTargetRepository()
	rels := memory.NewRelationshipRepository()
	users := memory.NewUserRepository()
	requests := memory.NewRequestRepository()
	fake := backendhttp.NewFake()

	users.AddUser(&user.User{Login: "adrian"})
	users.AddUser(&user.User{Login: "maxi"})
	users.AddGroup(&user.Group{Name: "legal", Members: []string{"maxi"}})

	require.NoError(t, targets.SaveProject(ctx, &target.Project{Name: "devel:tools"}))
	require.NoError(t, targets.SavePackage(ctx, &target.Package{Project: "devel:tools", Name: "osc"}))
	require.NoError(t, targets.SaveProject(ctx, &target.Project{Name: "openSUSE:Factory"}))
	require.NoError(t, rels.Grant(ctx, &relationship.Relationship{
		UserLogin: "adrian", Role: permissions.RoleMaintainer, Project: "devel:tools",
	}))
	require.NoError(t, rels.Grant(ctx, &relationship.Relationship{
		UserLogin: "maxi", Role: permissions.RoleMaintainer, Project: "openSUSE:Factory",
	}))
	require.NoError(t, rels.Grant(ctx, &relationship.Relationship{
		GroupName: "legal", Role: permissions.RoleReviewer, Project: "openSUSE:Factory",
	}))
	fake.SeedDirectory("devel:tools", "osc", &backend.Directory{Rev: "5"})

	log := logrus.New()
	log.SetOutput(io.Discard)

	perms := services.NewPermissionService(targets, rels, users)
	reviewers := services.NewReviewerService(targets, rels, users, perms)
	maint := services.NewMaintenanceService(targets, fake, log)
	svc := services.NewRequestService(services.RequestServiceOptions{
		Requests: requests,
		Env: &action.Env{
			Targets:       targets,
			Relationships: rels,
			Users:         users,
			Backend:       fake,
		},
		Permissions: perms,
		Reviewers:   reviewers,
		Pipeline:    maint,
		Tx:          services.PassthroughTx,
	})

	router := mux.NewRouter()
	controllers.NewRequestAPIController(svc, users, log).Register(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path, login string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if login != "" {
		req.Header.Set("X-Login", login)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createSubmit(t *testing.T, router *mux.Router) controllers.RequestResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/requests", "adrian", map[string]any{
		"description": "update osc",
		"actions": []map[string]any{{
			"kind":           "submit",
			"source_project": "devel:tools",
			"source_package": "osc",
			"target_project": "openSUSE:Factory",
			"target_package": "osc",
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp controllers.RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateAndGetRequest(t *testing.T) {
	router := newTestRouter(t)
	created := createSubmit(t, router)
	require.NotZero(t, created.ID)
	require.Equal(t, "review", created.State)
	require.Len(t, created.Reviews, 1)
	require.Equal(t, "legal", created.Reviews[0].Ref.ByGroup)

	rec := doJSON(t, router, http.MethodGet, "/api/requests/1", "adrian", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got controllers.RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "adrian", got.Creator)
}

func TestRequestsRequireLogin(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/requests/1", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope httpapi.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Equal(t, "UNAUTHENTICATED", envelope.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/requests/1", "ghost", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequestValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/requests", "adrian", map[string]any{
		"description": "empty",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Login", "adrian")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewAndAcceptOverAPI(t *testing.T) {
	router := newTestRouter(t)
	createSubmit(t, router)

	// Accepting while a review is open needs force.
	rec := doJSON(t, router, http.MethodPost, "/api/requests/1/state", "maxi", map[string]any{
		"state": "accepted",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	var envelope httpapi.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Equal(t, "REVIEW_PENDING", envelope.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/requests/1/reviews/state", "maxi", map[string]any{
		"ref":   map[string]string{"by_group": "legal"},
		"state": "accepted",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/requests/1/state", "maxi", map[string]any{
		"state":   "accepted",
		"comment": "ship it",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/requests/1", "adrian", nil)
	var got controllers.RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "accepted", got.State)
	require.NotNil(t, got.AcceptedAt)
}

func TestUnknownRequestOverAPI(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/requests/999", "adrian", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var envelope httpapi.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Equal(t, "UNKNOWN_REQUEST", envelope.Code)
}

package tokenization

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artifique/Agrilend-Backend/internal/auth"
)

func newRouter(f *fixture, role auth.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		auth.SetCaller(c, uuid.New(), role)
	})
	NewHandler(f.service).RegisterRoutes(api)
	return r
}

func TestHandlerValidateRequiresAuditor(t *testing.T) {
	f := newFixture(t)
	receipt := f.receipt(t, "H-1", 100)
	path := "/api/v1/receipts/" + receipt.ID.String() + "/validate"

	w := httptest.NewRecorder()
	newRouter(f, auth.RoleBuyer).ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	newRouter(f, auth.RoleAuditor).ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"inspection_report":"ok"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newRouter(f, auth.RoleAuditor).ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "already_validated", body["code"])
}

func TestHandlerMintFlow(t *testing.T) {
	f := newFixture(t)
	receipt := f.validated(t, "H-2", 60)
	admin := newRouter(f, auth.RoleAdmin)

	w := httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/receipts/"+receipt.ID.String()+"/mint", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var prepared MintPreparation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prepared))
	require.NotEmpty(t, prepared.ScheduleID)

	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/mints/"+prepared.ScheduleID+"/sign", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/receipts/"+receipt.ID.String()+"/certificate", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestHandlerRejectsBadID(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	newRouter(f, auth.RoleAdmin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/receipts/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

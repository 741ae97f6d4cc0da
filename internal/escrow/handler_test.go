package escrow

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

func newRouter(f *fixture, userID uuid.UUID, role auth.Role, limit gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		auth.SetCaller(c, userID, role)
	})
	NewHandler(f.service, limit).RegisterRoutes(api)
	return r
}

func placeBody(t *testing.T, offerID uuid.UUID, quantity string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"offer_id":         offerID,
		"quantity":         quantity,
		"delivery_address": "Plot 12, Bamako",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHandlerPlaceOrderFundsEscrow(t *testing.T) {
	f := newFixture(t, testPolicy())
	offerID := f.offer(t, "100", "2.00")
	buyer := newRouter(f, f.buyer, auth.RoleBuyer, nil)

	w := httptest.NewRecorder()
	buyer.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders", placeBody(t, offerID, "30")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, StatusInEscrow, order.Status)
	assert.Equal(t, "60.00", order.TotalAmount.StringFixed(2))

	w = httptest.NewRecorder()
	buyer.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	stranger := newRouter(f, uuid.New(), auth.RoleBuyer, nil)
	w = httptest.NewRecorder()
	stranger.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerPlaceOrderReportsFundingFailure(t *testing.T) {
	policy := testPolicy()
	policy.FaucetEnabled = false
	f := newFixture(t, policy)
	offerID := f.offer(t, "100", "2.00")

	w := httptest.NewRecorder()
	newRouter(f, f.buyer, auth.RoleBuyer, nil).ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/api/v1/orders", placeBody(t, offerID, "30")))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Code  string `json:"code"`
		Order Order  `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_funds", body.Code)
	assert.Equal(t, StatusPending, body.Order.Status)
}

func TestHandlerPlaceOrderIsRateLimited(t *testing.T) {
	f := newFixture(t, testPolicy())
	offerID := f.offer(t, "100", "2.00")
	blocked := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}

	w := httptest.NewRecorder()
	newRouter(f, f.buyer, auth.RoleBuyer, blocked).ServeHTTP(w,
		httptest.NewRequest(http.MethodPost, "/api/v1/orders", placeBody(t, offerID, "30")))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	orders, err := f.service.ListOrders(t.Context(), OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestHandlerReleaseRequiresAdmin(t *testing.T) {
	f := newFixture(t, testPolicy())
	order := f.funded(t, f.offer(t, "100", "2.00"), "50")
	path := "/api/v1/orders/" + order.ID.String() + "/release-escrow"

	w := httptest.NewRecorder()
	newRouter(f, f.buyer, auth.RoleBuyer, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := newRouter(f, uuid.New(), auth.RoleAdmin, nil)
	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_in_escrow", body["code"])
}

func TestHandlerStatusUpdate(t *testing.T) {
	f := newFixture(t, testPolicy())
	order := f.place(t, f.offer(t, "100", "2.00"), "10")
	admin := newRouter(f, uuid.New(), auth.RoleAdmin, nil)
	path := "/api/v1/orders/" + order.ID.String() + "/status"

	w := httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"status":"DELIVERED"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	admin.ServeHTTP(w, httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(`{"status":"CANCELLED","reason":"duplicate"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var cancelled Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestHandlerListScopesToCaller(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.place(t, f.offer(t, "100", "2.00"), "10")

	w := httptest.NewRecorder()
	newRouter(f, uuid.New(), auth.RoleBuyer, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var orders []Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Empty(t, orders)

	w = httptest.NewRecorder()
	newRouter(f, f.farmer, auth.RoleFarmer, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)
}

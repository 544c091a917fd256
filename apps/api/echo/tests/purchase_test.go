package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core/notification"
	"github.com/trezcool/elimu/core/purchase"
	testutil "github.com/trezcool/elimu/tests"
)

func postPurchase(t *testing.T, app *echoapi.Server, token string, body interface{}) (int, echoapi.PurchaseResponse) {
	req, rec := newAuthRequest(http.MethodPost, "/api/purchases", token, marchallObj(t, body))
	app.ServeHTTP(rec, req)
	var resp echoapi.PurchaseResponse
	if rec.Code == http.StatusOK {
		unmarchall(t, rec, &resp)
	}
	return rec.Code, resp
}

func Test_purchaseApi_create(t *testing.T) {
	app, env := setup(t)
	token := getToken(t, env.Conf, "alice")
	adminToken := getToken(t, env.Conf, "root", true)

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     "/api/purchases",
			body:     marchallObj(t, echo.Map{"productId": "book-1", "userId": "alice", "purchaseType": "digital"}),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/api/purchases",
			body:     marchallObj(t, echo.Map{"productId": "  ", "userId": "alice"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"productId":    "this field is required",
				"purchaseType": "this field is required",
			}),
		},
		{
			name:     "invalid type",
			method:   http.MethodPost,
			path:     "/api/purchases",
			body:     marchallObj(t, echo.Map{"productId": "book-1", "userId": "alice", "purchaseType": "paper"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"purchaseType": "purchaseType must be one of digital, physical or both",
			}),
		},
		{
			name:     "someone else",
			method:   http.MethodPost,
			path:     "/api/purchases",
			body:     marchallObj(t, echo.Map{"productId": "book-1", "userId": "bob", "purchaseType": "digital"}),
			token:    token,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("double purchase returns the same entitlement", func(t *testing.T) {
		body := echo.Map{"productId": "book-1", "userId": "alice", "purchaseType": "digital", "pricePaid": 12.5}

		code, first := postPurchase(t, app, token, body)
		require.Equal(t, http.StatusOK, code)
		code, second := postPurchase(t, app, token, body)
		require.Equal(t, http.StatusOK, code)

		assert.True(t, first.Success)
		assert.NotEmpty(t, first.PurchaseID)
		assert.Equal(t, first.PurchaseID, second.PurchaseID)
		assert.False(t, second.Upgraded)

		ents, err := env.EntitlementRepo.ListEntitlements(ctx(), "alice")
		require.NoError(t, err)
		assert.Len(t, ents, 1)
	})

	t.Run("upgrade to both", func(t *testing.T) {
		code, first := postPurchase(t, app, token, echo.Map{"productId": "book-2", "userId": "alice", "purchaseType": "physical"})
		require.Equal(t, http.StatusOK, code)

		code, upgraded := postPurchase(t, app, token, echo.Map{
			"productId":          "book-2",
			"userId":             "alice",
			"purchaseType":       "both",
			"upgradeExisting":    true,
			"existingPurchaseId": first.PurchaseID,
		})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, first.PurchaseID, upgraded.PurchaseID)
		assert.True(t, upgraded.Upgraded)

		ent, err := env.EntitlementRepo.GetEntitlementByID(ctx(), first.PurchaseID)
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeBoth, ent.Type)

		env.Drain(t)
		var types []notification.Type
		for _, n := range testutil.Notifications(t, env, "alice") {
			types = append(types, n.Type)
		}
		assert.Contains(t, types, notification.TypePurchaseUpgraded)
	})

	t.Run("existing purchase of another product", func(t *testing.T) {
		code, first := postPurchase(t, app, token, echo.Map{"productId": "book-3", "userId": "alice", "purchaseType": "digital"})
		require.Equal(t, http.StatusOK, code)

		code, _ = postPurchase(t, app, token, echo.Map{
			"productId":          "book-4",
			"userId":             "alice",
			"purchaseType":       "both",
			"upgradeExisting":    true,
			"existingPurchaseId": first.PurchaseID,
		})
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("admin purchases for another user", func(t *testing.T) {
		code, resp := postPurchase(t, app, adminToken, echo.Map{"productId": "book-1", "userId": "bob", "purchaseType": "both"})
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, resp.PurchaseID)
	})
}

func Test_purchaseApi_list(t *testing.T) {
	app, env := setup(t)
	ent := testutil.CreateEntitlement(t, env.EntitlementRepo, "alice", "book-1", purchase.TypeDigital)
	token := getToken(t, env.Conf, "alice")
	adminToken := getToken(t, env.Conf, "root", true)

	tests := []httpTest{
		{
			name:     "own purchases",
			method:   http.MethodGet,
			path:     "/api/purchases",
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.PurchaseListResponse{Purchases: []purchase.Entitlement{ent}}),
		},
		{
			name:     "someone else's purchases",
			method:   http.MethodGet,
			path:     "/api/purchases?userId=bob",
			token:    token,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "admin",
			method:   http.MethodGet,
			path:     "/api/purchases?userId=alice",
			token:    adminToken,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.PurchaseListResponse{Purchases: []purchase.Entitlement{ent}}),
		},
		{
			name:     "admin, no purchases",
			method:   http.MethodGet,
			path:     "/api/purchases?userId=bob",
			token:    adminToken,
			wantCode: http.StatusOK,
			wantData: []byte(`{"purchases": []}`),
		},
	}
	runHTTPTests(t, app, tests)
}

func Test_purchaseApi_verify(t *testing.T) {
	app, env := setup(t)
	token := getToken(t, env.Conf, "alice")
	orderID := purchase.MakeOrderID("book-1", purchase.TypeBoth, time.Now(), "alice")
	body := marchallObj(t, purchase.VerifyPurchase{ProductID: "book-1", UserID: "alice", OrderID: orderID})

	verify := func(t *testing.T) echoapi.PurchaseResponse {
		req, rec := newAuthRequest(http.MethodPost, "/api/purchases/verify", token, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.PurchaseResponse
		unmarchall(t, rec, &resp)
		return resp
	}

	t.Run("pending without a completed payment", func(t *testing.T) {
		testutil.RecordPayment(t, env.PaymentRepo, "alice", "book-1", orderID, purchase.PaymentPending)

		resp := verify(t)
		assert.True(t, resp.Success)
		assert.True(t, resp.Pending)
		assert.Empty(t, resp.PurchaseID)

		ents, err := env.EntitlementRepo.ListEntitlements(ctx(), "alice")
		require.NoError(t, err)
		assert.Empty(t, ents)
	})

	t.Run("granted once the payment completed", func(t *testing.T) {
		testutil.RecordPayment(t, env.PaymentRepo, "alice", "book-1", orderID, purchase.PaymentCompleted)

		resp := verify(t)
		assert.False(t, resp.Pending)
		require.NotEmpty(t, resp.PurchaseID)

		ent, err := env.EntitlementRepo.GetEntitlementByID(ctx(), resp.PurchaseID)
		require.NoError(t, err)
		assert.Equal(t, purchase.TypeBoth, ent.Type)

		again := verify(t)
		assert.Equal(t, resp.PurchaseID, again.PurchaseID)
	})

	t.Run("someone else", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/purchases/verify", getToken(t, env.Conf, "bob"), body)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func Test_paymentApi_webhook(t *testing.T) {
	app, env := setup(t)
	orderID := purchase.MakeOrderID("course-1", purchase.TypeDigital, time.Now(), "alice")
	event := func(status purchase.PaymentStatus) []byte {
		return marchallObj(t, purchase.PaymentEvent{
			OrderID:     orderID,
			UserID:      "alice",
			ProductID:   "course-1",
			ProductKind: purchase.ProductCourse,
			Amount:      30,
			Status:      status,
			Email:       "alice@test.test",
		})
	}
	deliver := func(secret string, body []byte) (int, echoapi.PurchaseResponse) {
		req, rec := newRequest(http.MethodPost, "/api/payments/webhook", body)
		if secret != "" {
			req.Header.Set("X-Webhook-Secret", secret)
		}
		app.ServeHTTP(rec, req)
		var resp echoapi.PurchaseResponse
		if rec.Code == http.StatusOK {
			unmarchall(t, rec, &resp)
		}
		return rec.Code, resp
	}

	t.Run("bad secret", func(t *testing.T) {
		code, _ := deliver("nope", event(purchase.PaymentCompleted))
		assert.Equal(t, http.StatusUnauthorized, code)
		code, _ = deliver("", event(purchase.PaymentCompleted))
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("invalid event", func(t *testing.T) {
		code, _ := deliver(env.Conf.WebhookSecret, marchallObj(t, echo.Map{"orderId": orderID, "status": "refunded"}))
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("pending then completed, delivered twice", func(t *testing.T) {
		code, resp := deliver(env.Conf.WebhookSecret, event(purchase.PaymentPending))
		require.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Success)
		assert.Empty(t, resp.PurchaseID)

		code, first := deliver(env.Conf.WebhookSecret, event(purchase.PaymentCompleted))
		require.Equal(t, http.StatusOK, code)
		require.NotEmpty(t, first.PurchaseID)

		code, second := deliver(env.Conf.WebhookSecret, event(purchase.PaymentCompleted))
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, first.PurchaseID, second.PurchaseID)

		ents, err := env.EntitlementRepo.ListEntitlements(ctx(), "alice")
		require.NoError(t, err)
		require.Len(t, ents, 1)
		assert.Equal(t, purchase.TypeDigital, ents[0].Type)

		env.Drain(t)
		assert.Len(t, testutil.Notifications(t, env, "alice"), 1)
		assert.Len(t, env.Mail.SentMessages(), 1)
	})
}

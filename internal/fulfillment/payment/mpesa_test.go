package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-fulfillment/internal/common/config"
	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fake Daraja Server
// ==========================

type fakeDaraja struct {
	tokenStatus int
	token       string
	pushStatus  int
	pushBody    map[string]interface{}

	tokenCalls int
	lastAuth   string
	lastPush   stkPushPayload
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")), r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": f.token, "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPush))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.pushStatus)
		_ = json.NewEncoder(w).Encode(f.pushBody)
	})
	return mux
}

func newTestMpesa(t *testing.T, f *fakeDaraja) *MpesaClient {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := NewMpesaClient(config.MpesaConfig{
		BaseURL:          srv.URL,
		ConsumerKey:      "key",
		ConsumerSecret:   "secret",
		ShortCode:        "174379",
		Passkey:          "passkey",
		CallbackURL:      "https://example.com/api/payments/mpesa/callback",
		AccountReference: "KarakAndGo",
		Timeout:          5000,
	}, logger.NewTestLogger(t))
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC) }
	return c
}

func acceptedBody() map[string]interface{} {
	return map[string]interface{}{
		"MerchantRequestID":   "29115-34620561-1",
		"CheckoutRequestID":   "ws_CO_191220191020363925",
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	}
}

// ==========================
// Push
// ==========================

func TestPush_Accepted(t *testing.T) {
	f := &fakeDaraja{tokenStatus: 200, token: "tok-1", pushStatus: 200, pushBody: acceptedBody()}
	c := newTestMpesa(t, f)

	resp, err := c.Push(context.Background(), PushRequest{OrderID: "KG-4821", Phone: "254712345678", Amount: 1160.75})
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	assert.Equal(t, "Bearer tok-1", f.lastAuth)

	p := f.lastPush
	// 09:30:15 UTC is 12:30:15 in Nairobi
	assert.Equal(t, "20240301123015", p.Timestamp)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20240301123015")), p.Password)
	assert.Equal(t, int64(1160), p.Amount)
	assert.Equal(t, "174379", p.BusinessShortCode)
	assert.Equal(t, "174379", p.PartyB)
	assert.Equal(t, "254712345678", p.PartyA)
	assert.Equal(t, "254712345678", p.PhoneNumber)
	assert.Equal(t, "CustomerPayBillOnline", p.TransactionType)
	assert.Equal(t, "KarakAndGo", p.AccountReference)
	assert.Equal(t, "Payment for Order KG-4821", p.TransactionDesc)
}

func TestPush_FetchesTokenEveryCall(t *testing.T) {
	f := &fakeDaraja{tokenStatus: 200, token: "tok", pushStatus: 200, pushBody: acceptedBody()}
	c := newTestMpesa(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.Push(context.Background(), PushRequest{OrderID: "KG-1000", Phone: "254712345678", Amount: 10})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.tokenCalls)
}

func TestPush_TokenFailure(t *testing.T) {
	f := &fakeDaraja{tokenStatus: 401, token: ""}
	c := newTestMpesa(t, f)

	_, err := c.Push(context.Background(), PushRequest{OrderID: "KG-1000", Phone: "254712345678", Amount: 10})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentAuthFailed))
}

func TestPush_EmptyToken(t *testing.T) {
	f := &fakeDaraja{tokenStatus: 200, token: ""}
	c := newTestMpesa(t, f)

	_, err := c.Token(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentAuthFailed))
}

func TestPush_NonZeroResponseCode(t *testing.T) {
	body := acceptedBody()
	body["ResponseCode"] = "1"
	body["ResponseDescription"] = "Insufficient balance"
	f := &fakeDaraja{tokenStatus: 200, token: "tok", pushStatus: 200, pushBody: body}
	c := newTestMpesa(t, f)

	_, err := c.Push(context.Background(), PushRequest{OrderID: "KG-1000", Phone: "254712345678", Amount: 10})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentRequestRejected))
	assert.Contains(t, err.Error(), "Insufficient balance")
}

func TestPush_HTTPErrorCarriesProviderMessage(t *testing.T) {
	f := &fakeDaraja{tokenStatus: 200, token: "tok", pushStatus: 400, pushBody: map[string]interface{}{
		"requestId":    "1234-5678",
		"errorCode":    "400.002.02",
		"errorMessage": "Bad Request - Invalid PhoneNumber",
	}}
	c := newTestMpesa(t, f)

	_, err := c.Push(context.Background(), PushRequest{OrderID: "KG-1000", Phone: "254712345678", Amount: 10})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentRequestRejected))
	assert.Contains(t, err.Error(), "Invalid PhoneNumber")

	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, "KG-1000", stdErr.Metadata["orderId"])
}

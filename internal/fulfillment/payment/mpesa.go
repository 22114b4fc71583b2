// internal/fulfillment/payment/mpesa.go
package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"order-fulfillment/internal/common/config"
	apperrors "order-fulfillment/internal/common/errors"
	apphttp "order-fulfillment/internal/common/http"
	"order-fulfillment/internal/common/logger"
)

const (
	tokenPath            = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath          = "/mpesa/stkpush/v1/processrequest"
	transactionType      = "CustomerPayBillOnline"
	timestampLayout      = "20060102150405"
	acceptedResponseCode = "0"
)

// East Africa Time; the provider validates timestamps against it.
var eat = time.FixedZone("EAT", 3*60*60)

// PushRequest asks the provider to prompt the payer's handset.
type PushRequest struct {
	OrderID string
	Phone   string // normalized 2547XXXXXXXX / 2541XXXXXXXX
	Amount  float64
}

// PushResponse is the synchronous acknowledgement of an STK push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	RequestID    string `json:"requestId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// MpesaClient talks to the Daraja STK push API.
type MpesaClient struct {
	cfg    config.MpesaConfig
	http   *apphttp.Client
	now    func() time.Time
	logger logger.Logger
}

func NewMpesaClient(cfg config.MpesaConfig, log logger.Logger) *MpesaClient {
	timeout := config.GetDuration(cfg.Timeout)
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &MpesaClient{
		cfg:    cfg,
		http:   apphttp.NewClient(timeout),
		now:    time.Now,
		logger: logger.ForComponent(log, "mpesa"),
	}
}

// Token fetches a fresh OAuth access token. Tokens are not cached.
func (c *MpesaClient) Token(ctx context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))

	var out tokenResponse
	err := c.http.DoJSON(ctx, http.MethodGet, c.url(tokenPath),
		map[string]string{"Authorization": "Basic " + credentials}, nil, &out)
	if err != nil {
		return "", apperrors.NewPaymentAuthFailedError(err)
	}
	if out.AccessToken == "" {
		return "", apperrors.NewPaymentAuthFailedError(errors.New("empty access token"))
	}
	return out.AccessToken, nil
}

// Push sends an STK push. Only ResponseCode "0" counts as accepted.
func (c *MpesaClient) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload := c.buildPayload(req)

	var out PushResponse
	err = c.http.DoJSON(ctx, http.MethodPost, c.url(stkPushPath),
		map[string]string{"Authorization": "Bearer " + token}, payload, &out)
	if err != nil {
		var statusErr *apphttp.StatusError
		if !errors.As(err, &statusErr) {
			return nil, apperrors.NewPaymentRequestRejectedError(err.Error())
		}
	}

	if out.ResponseCode != acceptedResponseCode {
		msg := firstNonEmpty(out.ErrorMessage, out.ResponseDescription, errString(err), "STK push rejected")
		c.logger.Warn("stk push rejected", map[string]interface{}{
			"orderId":      req.OrderID,
			"responseCode": out.ResponseCode,
			"errorCode":    out.ErrorCode,
			"message":      msg,
		})
		return &out, apperrors.NewPaymentRequestRejectedError(msg).WithMetadata("orderId", req.OrderID)
	}

	c.logger.Info("stk push accepted", map[string]interface{}{
		"orderId":           req.OrderID,
		"checkoutRequestId": out.CheckoutRequestID,
	})
	return &out, nil
}

func (c *MpesaClient) buildPayload(req PushRequest) stkPushPayload {
	timestamp := c.now().In(eat).Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))

	return stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            int64(math.Floor(req.Amount)),
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  c.cfg.AccountReference,
		TransactionDesc:   fmt.Sprintf("Payment for Order %s", req.OrderID),
	}
}

func (c *MpesaClient) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package gateway 支付网关适配层：把待处理提现提交给外部出款渠道
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletledger/internal/config"
	"walletledger/internal/model"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var ErrPayoutRejected = errors.New("支付网关拒绝出款")

type PayoutRequest struct {
	TransactionNo  string               `json:"transaction_no"`
	UserID         string               `json:"user_id"`
	Amount         string               `json:"amount"`
	PaymentMethod  string               `json:"payment_method"`
	PaymentDetails model.PaymentDetails `json:"payment_details,omitempty"`
}

// PayoutReceipt 网关受理回执；最终结果通过回调通知
type PayoutReceipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type Gateway interface {
	Name() string
	Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error)
}

// NewPayoutRequest 由提现流水构造出款请求
func NewPayoutRequest(trans *model.Transaction) PayoutRequest {
	return PayoutRequest{
		TransactionNo:  trans.TransactionNo,
		UserID:         trans.UserID,
		Amount:         trans.Amount.StringFixed(2),
		PaymentMethod:  trans.PaymentMethod,
		PaymentDetails: trans.PaymentDetails,
	}
}

// New 配置了 base_url 时走 HTTP 网关，否则为人工出款
func New(cfg *config.GatewayConfig) Gateway {
	if cfg.BaseURL == "" {
		return ManualGateway{}
	}
	return NewHTTPGateway(cfg)
}

// HTTPGateway 通过 REST 接口出款，流水号作为幂等键，重复提交不会重复打款
type HTTPGateway struct {
	name   string
	client *resty.Client
}

func NewHTTPGateway(cfg *config.GatewayConfig) *HTTPGateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	name := cfg.Name
	if name == "" || name == "manual" {
		name = "http"
	}
	return &HTTPGateway{name: name, client: client}
}

func (g *HTTPGateway) Name() string {
	return g.name
}

func (g *HTTPGateway) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	var receipt PayoutReceipt
	r := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.TransactionNo).
		SetBody(req).
		SetResult(&receipt)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))

	resp, err := r.Post("/payouts")
	if err != nil {
		return nil, fmt.Errorf("调用支付网关失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrPayoutRejected, resp.StatusCode(), resp.String())
	}
	if receipt.Reference == "" {
		return nil, fmt.Errorf("%w: 回执缺少 reference", ErrPayoutRejected)
	}
	return &receipt, nil
}

// ManualGateway 人工出款：运营线下打款后通过管理端结算
type ManualGateway struct{}

func (ManualGateway) Name() string {
	return "manual"
}

func (ManualGateway) Payout(_ context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	return &PayoutReceipt{Reference: "MANUAL-" + req.TransactionNo, Status: "queued"}, nil
}

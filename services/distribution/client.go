package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/errutil"
	"promoflow-engine/pkg/retry"

	"go.uber.org/zap"
)

// PaymentClient is the boundary to the external streaming-payment
// service. Rates and amounts are integer strings in the smallest token
// unit; floating point never crosses this interface. Calls are
// at-least-once: the callee treats a repeated "set to X" as a no-op.
type PaymentClient interface {
	CreateFlow(ctx context.Context, receiver, flowRateWeiPerSec string) error
	UpdateFlow(ctx context.Context, receiver, flowRateWeiPerSec string) error
	DeleteFlow(ctx context.Context, receiver string) error
	UpdateMemberUnits(ctx context.Context, pool, member string, units int64) error
	ConnectPool(ctx context.Context, pool, member string) error
	DisconnectPool(ctx context.Context, pool, member string) error
	Distribute(ctx context.Context, superToken, admin, pool, amount string) error
}

// HTTPPaymentClient forwards payment operations to the streaming
// service's relay API. Constructed once at startup; a bad base URL
// surfaces immediately instead of on first call.
type HTTPPaymentClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retry.Config
}

func NewHTTPPaymentClient(cfg *config.Config) (*HTTPPaymentClient, error) {
	if cfg.Payment.BaseURL == "" {
		return nil, errutil.BadRequest("payment base url is not configured", nil)
	}

	return &HTTPPaymentClient{
		baseURL: cfg.Payment.BaseURL,
		apiKey:  cfg.Payment.APIKey,
		client:  &http.Client{Timeout: cfg.Payment.Timeout},
		retry:   retry.DefaultConfig(),
	}, nil
}

func (c *HTTPPaymentClient) post(ctx context.Context, operation, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return retry.WithBackoff(ctx, c.retry, zap.L(), operation, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("payment service returned %d: %s", resp.StatusCode, msg)
		}
		return nil
	})
}

func (c *HTTPPaymentClient) CreateFlow(ctx context.Context, receiver, flowRate string) error {
	return c.post(ctx, "create_flow", "/v1/flows", map[string]string{
		"receiver":  receiver,
		"flow_rate": flowRate,
	})
}

func (c *HTTPPaymentClient) UpdateFlow(ctx context.Context, receiver, flowRate string) error {
	return c.post(ctx, "update_flow", "/v1/flows/update", map[string]string{
		"receiver":  receiver,
		"flow_rate": flowRate,
	})
}

func (c *HTTPPaymentClient) DeleteFlow(ctx context.Context, receiver string) error {
	return c.post(ctx, "delete_flow", "/v1/flows/delete", map[string]string{
		"receiver": receiver,
	})
}

func (c *HTTPPaymentClient) UpdateMemberUnits(ctx context.Context, pool, member string, units int64) error {
	return c.post(ctx, "update_member_units", "/v1/pools/member-units", map[string]any{
		"pool":   pool,
		"member": member,
		"units":  fmt.Sprintf("%d", units),
	})
}

func (c *HTTPPaymentClient) ConnectPool(ctx context.Context, pool, member string) error {
	return c.post(ctx, "connect_pool", "/v1/pools/connect", map[string]string{
		"pool":   pool,
		"member": member,
	})
}

func (c *HTTPPaymentClient) DisconnectPool(ctx context.Context, pool, member string) error {
	return c.post(ctx, "disconnect_pool", "/v1/pools/disconnect", map[string]string{
		"pool":   pool,
		"member": member,
	})
}

func (c *HTTPPaymentClient) Distribute(ctx context.Context, superToken, admin, pool, amount string) error {
	return c.post(ctx, "distribute", "/v1/pools/distribute", map[string]string{
		"super_token": superToken,
		"admin":       admin,
		"pool":        pool,
		"amount":      amount,
	})
}

var _ PaymentClient = (*HTTPPaymentClient)(nil)

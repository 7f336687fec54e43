package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type PayBCConfig struct {
	BaseURL     string
	OAuth       OAuthConfig
	HTTPTimeout time.Duration
}

// PayBCConnector queries credit-card transactions and submits refunds.
type PayBCConnector struct {
	cfg    PayBCConfig
	client *http.Client
}

func NewPayBCConnector(cfg PayBCConfig) *PayBCConnector {
	return &PayBCConnector{cfg: cfg, client: newHTTPClient(cfg.OAuth, cfg.HTTPTimeout)}
}

func (c *PayBCConnector) System() System {
	return SystemPayBC
}

func (c *PayBCConnector) Submit(ctx context.Context, req *Request) (*Ack, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, &PermanentError{System: SystemPayBC, Operation: req.Operation, Err: ErrNotConfigured}
	}
	headers := map[string]string{"X-Correlation-ID": req.CorrelationID}

	switch req.Operation {
	case OpTransactionStatus:
		var out struct {
			PaymentStatus string `json:"paymentstatus"`
			TrnNumber     string `json:"trnnumber"`
		}
		url := joinURL(c.cfg.BaseURL, "paybc", "payment", req.Reference, "transaction", req.Attr("transaction_id"))
		raw, err := doJSON(ctx, c.client, SystemPayBC, req.Operation, http.MethodGet, url, headers, nil, &out)
		if err != nil {
			return nil, err
		}
		return &Ack{
			System:    SystemPayBC,
			Operation: req.Operation,
			Reference: firstNonEmpty(out.TrnNumber, req.Reference),
			Status:    strings.ToUpper(strings.TrimSpace(out.PaymentStatus)),
			Raw:       raw,
		}, nil
	case OpRefund:
		var out struct {
			ID         string `json:"id"`
			Approved   int    `json:"approved"`
			Message    string `json:"message"`
			RefundedAt string `json:"refundedat"`
		}
		url := joinURL(c.cfg.BaseURL, "paybc-ords", "refund")
		payload := map[string]string{
			"orderNumber":  req.Attr("order_number"),
			"pbcRefNumber": req.Reference,
			"txnNumber":    req.Attr("transaction_id"),
			"refundAmount": formatAmount(req.AmountCents),
		}
		raw, err := doJSON(ctx, c.client, SystemPayBC, req.Operation, http.MethodPost, url, headers, payload, &out)
		if err != nil {
			return nil, err
		}
		if out.Approved != 1 {
			return nil, &PermanentError{System: SystemPayBC, Operation: req.Operation, Err: fmt.Errorf("refund not approved: %s", out.Message)}
		}
		return &Ack{System: SystemPayBC, Operation: req.Operation, Reference: firstNonEmpty(out.ID, req.Reference), Status: "APPROVED", Raw: raw}, nil
	default:
		return nil, unsupported(SystemPayBC, req.Operation)
	}
}

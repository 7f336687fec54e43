package connector

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type CFSConfig struct {
	BaseURL     string
	OAuth       OAuthConfig
	HTTPTimeout time.Duration
	BatchSource string
}

// CFSConnector posts parties, accounts, invoices and receipts to the CFS
// accounts-receivable REST API.
type CFSConnector struct {
	cfg    CFSConfig
	client *http.Client
}

func NewCFSConnector(cfg CFSConfig) *CFSConnector {
	if strings.TrimSpace(cfg.OAuth.TokenURL) == "" && strings.TrimSpace(cfg.BaseURL) != "" {
		cfg.OAuth.TokenURL = strings.TrimRight(cfg.BaseURL, "/") + "/oauth/token"
	}
	if cfg.BatchSource == "" {
		cfg.BatchSource = "BC REG MANUAL_OTHER"
	}
	return &CFSConnector{
		cfg:    cfg,
		client: newHTTPClient(cfg.OAuth, cfg.HTTPTimeout),
	}
}

func (c *CFSConnector) System() System {
	return SystemCFS
}

type cfsLine struct {
	LineNumber  int    `json:"line_number"`
	LineType    string `json:"line_type"`
	Description string `json:"description"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int32  `json:"quantity"`
}

func (c *CFSConnector) Submit(ctx context.Context, req *Request) (*Ack, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, &PermanentError{System: SystemCFS, Operation: req.Operation, Err: ErrNotConfigured}
	}

	site := []string{"cfs", "parties", req.PartyNumber, "accs", req.AccountNumber, "sites", req.SiteNumber}
	headers := map[string]string{"X-Correlation-ID": req.CorrelationID}

	var (
		url     string
		payload interface{}
		out     = map[string]interface{}{}
		refKey  string
	)

	switch req.Operation {
	case OpCreateParty:
		url = joinURL(c.cfg.BaseURL, "cfs", "parties")
		payload = map[string]string{"customer_name": req.Attr("name")}
		refKey = "party_number"
	case OpCreateAccount:
		url = joinURL(c.cfg.BaseURL, "cfs", "parties", req.PartyNumber, "accs")
		payload = map[string]string{"account_description": req.Attr("name"), "customer_profile_class": req.Attr("profile_class")}
		refKey = "account_number"
	case OpCreateSite:
		url = joinURL(c.cfg.BaseURL, "cfs", "parties", req.PartyNumber, "accs", req.AccountNumber, "sites")
		payload = map[string]string{"site_name": req.Attr("name"), "customer_site_id": "1"}
		refKey = "site_number"
	case OpCreateInvoice:
		lines := make([]cfsLine, 0, len(req.Lines))
		for i, l := range req.Lines {
			lines = append(lines, cfsLine{
				LineNumber:  i + 1,
				LineType:    "LINE",
				Description: l.Description,
				UnitPrice:   formatAmount(l.AmountCents),
				Quantity:    l.Quantity,
			})
		}
		url = joinURL(c.cfg.BaseURL, append(site, "invs")...)
		payload = map[string]interface{}{
			"batch_source":       c.cfg.BatchSource,
			"transaction_number": req.Reference,
			"transaction_date":   time.Now().UTC().Format("2006-01-02"),
			"comments":           req.Attr("comments"),
			"lines":              lines,
		}
		refKey = "invoice_number"
	case OpAdjustInvoice:
		url = joinURL(c.cfg.BaseURL, append(site, "invs", req.Reference, "adjs")...)
		payload = map[string]interface{}{
			"comment": req.Attr("comment"),
			"lines": []map[string]string{{
				"adjustment_amount": formatAmount(req.AmountCents),
				"type":              "LINE",
			}},
		}
	case OpCreateReceipt:
		url = joinURL(c.cfg.BaseURL, append(site, "rcpts")...)
		payload = map[string]string{
			"receipt_number": req.ReceiptNumber,
			"receipt_date":   time.Now().UTC().Format("2006-01-02"),
			"amount":         formatAmount(req.AmountCents),
			"payment_method": req.Attr("payment_method"),
		}
		refKey = "receipt_number"
	case OpApplyReceipt, OpUnapplyReceipt:
		action := "apply"
		if req.Operation == OpUnapplyReceipt {
			action = "unapply"
		}
		url = joinURL(c.cfg.BaseURL, append(site, "rcpts", req.ReceiptNumber, action)...)
		payload = map[string]string{"invoice_number": req.Reference}
	case OpAdjustReceipt:
		url = joinURL(c.cfg.BaseURL, append(site, "rcpts", req.ReceiptNumber, "adjs")...)
		payload = map[string]string{"amount": formatAmount(req.AmountCents)}
	case OpReverseReceipt:
		url = joinURL(c.cfg.BaseURL, append(site, "rcpts", req.ReceiptNumber, "reverse")...)
		payload = map[string]string{"reversal_reason": req.Attr("reason"), "reversal_comment": req.Attr("comment")}
	default:
		return nil, unsupported(SystemCFS, req.Operation)
	}

	raw, err := doJSON(ctx, c.client, SystemCFS, req.Operation, http.MethodPost, url, headers, payload, &out)
	if err != nil {
		return nil, err
	}

	ack := &Ack{System: SystemCFS, Operation: req.Operation, Reference: req.Reference, Status: "ACCEPTED", Raw: raw}
	if refKey != "" {
		if v, ok := out[refKey].(string); ok && v != "" {
			ack.Reference = v
		}
	}
	return ack, nil
}

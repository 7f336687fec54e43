package connector

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	bcolNS         = "http://BCOnline.gov.bc.ca/WebServices/"
)

type BCOLConfig struct {
	URL         string
	UserID      string
	Password    string
	HTTPTimeout time.Duration
}

// BCOLConnector charges and refunds BC Online drawdown accounts over SOAP.
type BCOLConnector struct {
	cfg    BCOLConfig
	client *http.Client
}

func NewBCOLConnector(cfg BCOLConfig) *BCOLConnector {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &BCOLConnector{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (c *BCOLConnector) System() System {
	return SystemBCOL
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapNS  string   `xml:"xmlns:soapenv,attr"`
	BcolNS  string   `xml:"xmlns:bcol,attr"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Payload interface{}
}

type bcolDebitRequest struct {
	XMLName   xml.Name `xml:"bcol:debitAccount"`
	Version   string   `xml:"bcol:Version"`
	Feecode   string   `xml:"bcol:Feecode"`
	UserID    string   `xml:"bcol:Userid"`
	Key       string   `xml:"bcol:Key"`
	Account   string   `xml:"bcol:Account"`
	RateType  string   `xml:"bcol:RateType"`
	Folio     string   `xml:"bcol:Folio"`
	Quantity  string   `xml:"bcol:Quantity"`
	Amount    string   `xml:"bcol:Amount"`
	Password  string   `xml:"bcol:Password"`
	Reference string   `xml:"bcol:Reference"`
}

type bcolCreditRequest struct {
	XMLName   xml.Name `xml:"bcol:creditAccount"`
	Version   string   `xml:"bcol:Version"`
	UserID    string   `xml:"bcol:Userid"`
	Key       string   `xml:"bcol:Key"`
	Account   string   `xml:"bcol:Account"`
	Amount    string   `xml:"bcol:Amount"`
	Password  string   `xml:"bcol:Password"`
	Reference string   `xml:"bcol:Reference"`
}

type bcolResponseEnvelope struct {
	Body struct {
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
		Debit *struct {
			Return bcolReturn `xml:"debitAccountReturn"`
		} `xml:"debitAccountResponse"`
		Credit *struct {
			Return bcolReturn `xml:"creditAccountReturn"`
		} `xml:"creditAccountResponse"`
	} `xml:"Body"`
}

type bcolReturn struct {
	Key          string `xml:"Key"`
	TotalAmount  string `xml:"TotalAmount"`
	StatutoryFee string `xml:"StatutoryFee"`
	ReturnCode   string `xml:"ReturnCode"`
	ReturnMsg    string `xml:"ReturnMsg"`
}

func (c *BCOLConnector) Submit(ctx context.Context, req *Request) (*Ack, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, Err: ErrNotConfigured}
	}

	var payload interface{}
	action := ""
	switch req.Operation {
	case OpCharge:
		action = "debitAccount"
		payload = bcolDebitRequest{
			Version:   "1",
			Feecode:   req.Attr("fee_code"),
			UserID:    firstNonEmpty(req.Attr("user_id"), c.cfg.UserID),
			Key:       req.Reference,
			Account:   req.AccountNumber,
			RateType:  "EC",
			Folio:     req.Attr("folio"),
			Quantity:  "1",
			Amount:    bcolAmount(req.AmountCents),
			Password:  c.cfg.Password,
			Reference: req.CorrelationID,
		}
	case OpRefund:
		action = "creditAccount"
		payload = bcolCreditRequest{
			Version:   "1",
			UserID:    firstNonEmpty(req.Attr("user_id"), c.cfg.UserID),
			Key:       req.Reference,
			Account:   req.AccountNumber,
			Amount:    bcolAmount(req.AmountCents),
			Password:  c.cfg.Password,
			Reference: req.CorrelationID,
		}
	default:
		return nil, unsupported(SystemBCOL, req.Operation)
	}

	envelope := soapEnvelope{SoapNS: soapEnvelopeNS, BcolNS: bcolNS, Body: soapBody{Payload: payload}}
	encoded, err := xml.Marshal(envelope)
	if err != nil {
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(append([]byte(xml.Header), encoded...)))
	if err != nil {
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, Err: err}
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", bcolNS+action)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(SystemBCOL, req.Operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(SystemBCOL, req.Operation, err)
	}

	var parsed bcolResponseEnvelope
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		if statusErr := classifyStatus(SystemBCOL, req.Operation, resp.StatusCode, raw); statusErr != nil {
			return nil, statusErr
		}
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode soap response: %w", err)}
	}

	if fault := parsed.Body.Fault; fault != nil {
		cause := fmt.Errorf("%s: %s", fault.Code, fault.String)
		// Client faults are validation problems (bad account, insufficient funds).
		if strings.Contains(strings.ToLower(fault.Code), "client") {
			return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, StatusCode: resp.StatusCode, Err: cause}
		}
		return nil, &TransientError{System: SystemBCOL, Operation: req.Operation, StatusCode: resp.StatusCode, Err: cause}
	}
	if err := classifyStatus(SystemBCOL, req.Operation, resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var ret *bcolReturn
	if parsed.Body.Debit != nil {
		ret = &parsed.Body.Debit.Return
	} else if parsed.Body.Credit != nil {
		ret = &parsed.Body.Credit.Return
	}
	if ret == nil {
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("empty soap response")}
	}
	if ret.ReturnCode != "" && ret.ReturnCode != "0" {
		return nil, &PermanentError{System: SystemBCOL, Operation: req.Operation, Err: fmt.Errorf("bcol return code %s: %s", ret.ReturnCode, ret.ReturnMsg)}
	}

	return &Ack{
		System:    SystemBCOL,
		Operation: req.Operation,
		Reference: firstNonEmpty(ret.Key, req.Reference),
		Status:    "COMPLETED",
		Raw:       raw,
	}, nil
}

// bcolAmount renders cents as the signed whole-cent string BCOL expects.
func bcolAmount(cents int64) string {
	return fmt.Sprintf("%d", cents)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

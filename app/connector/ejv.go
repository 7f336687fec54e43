package connector

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FileSink receives outbound batch files.
type FileSink interface {
	Upload(ctx context.Context, name string, data []byte) error
}

type EJVConfig struct {
	FeederNumber string
	Ministry     string
	FilePrefix   string
}

// EJVConnector writes fixed-width journal voucher files for partner
// disbursements and hands them to the file sink. Outcomes arrive later
// in EJV feedback files.
type EJVConnector struct {
	cfg  EJVConfig
	sink FileSink
	now  func() time.Time

	mu  sync.Mutex
	seq int
}

func NewEJVConnector(cfg EJVConfig, sink FileSink) *EJVConnector {
	if cfg.FeederNumber == "" {
		cfg.FeederNumber = "3535"
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "INBOX.F"
	}
	return &EJVConnector{cfg: cfg, sink: sink, now: time.Now}
}

func (c *EJVConnector) System() System {
	return SystemEJV
}

func (c *EJVConnector) Submit(ctx context.Context, req *Request) (*Ack, error) {
	if c.sink == nil {
		return nil, &PermanentError{System: SystemEJV, Operation: req.Operation, Err: ErrNotConfigured}
	}

	var flow string
	switch req.Operation {
	case OpDisburse:
		flow = "C"
	case OpReverseDisbursement:
		flow = "D"
	default:
		return nil, unsupported(SystemEJV, req.Operation)
	}
	if req.AmountCents <= 0 {
		return nil, &PermanentError{System: SystemEJV, Operation: req.Operation, Err: fmt.Errorf("amount must be positive")}
	}

	now := c.now().UTC()
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	name := fmt.Sprintf("%s%s.%s%03d", c.cfg.FilePrefix, c.cfg.FeederNumber, now.Format("20060102150405"), seq%1000)
	data := c.journal(req, flow, now)

	if err := c.sink.Upload(ctx, name, data); err != nil {
		return nil, classifyTransport(SystemEJV, req.Operation, err)
	}

	return &Ack{
		System:    SystemEJV,
		Operation: req.Operation,
		Reference: req.Reference,
		Status:    "ACKNOWLEDGED",
		Raw:       []byte(name),
	}, nil
}

func (c *EJVConnector) journal(req *Request, flow string, now time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "BH%-4s%-8s%06d\n", c.cfg.FeederNumber, now.Format("20060102"), 1)
	fmt.Fprintf(&buf, "JD%-20s%015d%s%-40s\n",
		fit(req.Reference, 20),
		req.AmountCents,
		flow,
		fit(firstNonEmpty(req.Attr("description"), c.cfg.Ministry), 40),
	)
	fmt.Fprintf(&buf, "BT%06d%015d\n", 1, req.AmountCents)
	return buf.Bytes()
}

func fit(value string, width int) string {
	value = strings.TrimSpace(value)
	if len(value) > width {
		return value[:width]
	}
	return value
}

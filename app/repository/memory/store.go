// Package memory is an in-process ledger store with the same contracts as the
// MySQL repositories. A transaction holds a store-wide lock and rolls the
// whole store back when fn fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
)

type txKey struct{}

type state struct {
	seq map[string]uint64

	accounts   map[uint64]*entity.Account
	invoices   map[uint64]*entity.Invoice
	receipts   map[uint64]*entity.Receipt
	slips      map[uint64]*entity.RoutingSlip
	records    map[uint64]*entity.SettlementRecord
	files      map[string]*entity.SettlementFile
	events     map[uint64]*entity.InvoiceEvent
	reviews    map[uint64]*entity.ReviewItem
	statements map[uint64]*entity.Statement
}

func newState() *state {
	return &state{
		seq:        map[string]uint64{},
		accounts:   map[uint64]*entity.Account{},
		invoices:   map[uint64]*entity.Invoice{},
		receipts:   map[uint64]*entity.Receipt{},
		slips:      map[uint64]*entity.RoutingSlip{},
		records:    map[uint64]*entity.SettlementRecord{},
		files:      map[string]*entity.SettlementFile{},
		events:     map[uint64]*entity.InvoiceEvent{},
		reviews:    map[uint64]*entity.ReviewItem{},
		statements: map[uint64]*entity.Statement{},
	}
}

func (s *state) next(table string) uint64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.seq {
		out.seq[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = cloneAccount(v)
	}
	for k, v := range s.invoices {
		out.invoices[k] = cloneInvoice(v)
	}
	for k, v := range s.receipts {
		out.receipts[k] = cloneReceipt(v)
	}
	for k, v := range s.slips {
		out.slips[k] = cloneSlip(v)
	}
	for k, v := range s.records {
		c := *v
		out.records[k] = &c
	}
	for k, v := range s.files {
		c := *v
		out.files[k] = &c
	}
	for k, v := range s.events {
		c := *v
		out.events[k] = &c
	}
	for k, v := range s.reviews {
		c := *v
		out.reviews[k] = &c
	}
	for k, v := range s.statements {
		c := *v
		out.statements[k] = &c
	}
	return out
}

// Store owns every table. Fault, when set, is consulted before each write
// with an operation name such as "invoices.update"; a non-nil result is
// returned as the write error.
type Store struct {
	mu    sync.Mutex
	state *state

	Fault func(op string) error
}

func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx serializes fn against every other store access. Nested calls join
// the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(context.WithoutCancel(ctx), txKey{}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if !inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

func (s *Store) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op)
}

func (s *Store) Accounts() *AccountRepository         { return &AccountRepository{s: s} }
func (s *Store) Invoices() *InvoiceRepository         { return &InvoiceRepository{s: s} }
func (s *Store) Receipts() *ReceiptRepository         { return &ReceiptRepository{s: s} }
func (s *Store) RoutingSlips() *RoutingSlipRepository { return &RoutingSlipRepository{s: s} }
func (s *Store) Settlements() *SettlementRepository   { return &SettlementRepository{s: s} }
func (s *Store) Events() *InvoiceEventRepository      { return &InvoiceEventRepository{s: s} }
func (s *Store) Reviews() *ReviewItemRepository       { return &ReviewItemRepository{s: s} }
func (s *Store) Statements() *StatementRepository     { return &StatementRepository{s: s} }

type AccountRepository struct{ s *Store }

func (r *AccountRepository) Create(ctx context.Context, account *entity.Account) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("accounts.create"); err != nil {
			return err
		}
		account.ID = st.next("accounts")
		st.accounts[account.ID] = cloneAccount(account)
		return nil
	})
}

func (r *AccountRepository) Update(ctx context.Context, account *entity.Account) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("accounts.update"); err != nil {
			return err
		}
		if _, ok := st.accounts[account.ID]; !ok {
			return repository.ErrAccountNotFound
		}
		st.accounts[account.ID] = cloneAccount(account)
		return nil
	})
}

func (r *AccountRepository) FindByID(ctx context.Context, id uint64) (*entity.Account, error) {
	var out *entity.Account
	err := r.s.with(ctx, func(st *state) error {
		if v, ok := st.accounts[id]; ok {
			out = cloneAccount(v)
		}
		return nil
	})
	return out, err
}

func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Account, error) {
	return r.FindByID(ctx, id)
}

func (r *AccountRepository) ListPendingPADActivation(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Account, error) {
	out := []*entity.Account{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.accounts) {
			a := st.accounts[id]
			if a.CFSStatus == entity.CFSAccountPendingPADActivation && a.PADActivationDate != nil && !a.PADActivationDate.After(cutoff) {
				out = append(out, cloneAccount(a))
			}
		}
		return nil
	})
	return capped(out, limit), err
}

func (r *AccountRepository) ListByStatementFrequency(ctx context.Context, frequency entity.StatementFrequency, afterID uint64, limit int32) ([]*entity.Account, error) {
	out := []*entity.Account{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.accounts) {
			a := st.accounts[id]
			if id > afterID && a.Billable && a.StatementFrequency == frequency {
				out = append(out, cloneAccount(a))
			}
		}
		return nil
	})
	return capped(out, limit), err
}

type InvoiceRepository struct{ s *Store }

func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("invoices.create"); err != nil {
			return err
		}
		for _, existing := range st.invoices {
			if existing.AccountID == invoice.AccountID && existing.RequestID == invoice.RequestID {
				return repository.ErrInvoiceAlreadyExists
			}
			if sameRef(existing.Reference, invoice.Reference) {
				return repository.ErrInvoiceAlreadyExists
			}
		}
		invoice.ID = st.next("invoices")
		for _, li := range invoice.LineItems {
			li.ID = st.next("line_items")
			li.InvoiceID = invoice.ID
		}
		st.invoices[invoice.ID] = cloneInvoice(invoice)
		return nil
	})
}

func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("invoices.update"); err != nil {
			return err
		}
		current, ok := st.invoices[invoice.ID]
		if !ok {
			return repository.ErrInvoiceNotFound
		}
		for id, existing := range st.invoices {
			if id != invoice.ID && sameRef(existing.Reference, invoice.Reference) {
				return repository.ErrInvoiceAlreadyExists
			}
		}
		next := cloneInvoice(invoice)
		// Only line item status is writable after creation.
		lines := make([]*entity.LineItem, 0, len(current.LineItems))
		for _, li := range current.LineItems {
			c := *li
			for _, upd := range invoice.LineItems {
				if upd != nil && upd.ID == li.ID {
					c.Status = upd.Status
				}
			}
			lines = append(lines, &c)
		}
		next.LineItems = lines
		st.invoices[invoice.ID] = next
		return nil
	})
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id uint64) (*entity.Invoice, error) {
	return r.findOne(ctx, func(i *entity.Invoice) bool { return i.ID == id })
}

func (r *InvoiceRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Invoice, error) {
	return r.FindByID(ctx, id)
}

func (r *InvoiceRepository) FindByRequestID(ctx context.Context, accountID uint64, requestID string) (*entity.Invoice, error) {
	return r.findOne(ctx, func(i *entity.Invoice) bool { return i.AccountID == accountID && i.RequestID == requestID })
}

func (r *InvoiceRepository) FindByReferenceForUpdate(ctx context.Context, reference string) (*entity.Invoice, error) {
	return r.findOne(ctx, func(i *entity.Invoice) bool { return i.Reference != nil && *i.Reference == reference })
}

func (r *InvoiceRepository) findOne(ctx context.Context, match func(*entity.Invoice) bool) (*entity.Invoice, error) {
	var out *entity.Invoice
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.invoices) {
			if match(st.invoices[id]) {
				out = cloneInvoice(st.invoices[id])
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *InvoiceRepository) list(ctx context.Context, match func(*entity.Invoice) bool) ([]*entity.Invoice, error) {
	out := []*entity.Invoice{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.invoices) {
			if match(st.invoices[id]) {
				out = append(out, cloneInvoice(st.invoices[id]))
			}
		}
		return nil
	})
	return out, err
}

func (r *InvoiceRepository) List(ctx context.Context, filter repository.InvoiceFilter) ([]*entity.Invoice, error) {
	items, err := r.list(ctx, func(i *entity.Invoice) bool {
		if filter.AccountID > 0 && i.AccountID != filter.AccountID {
			return false
		}
		if filter.HasStatus && i.Status != filter.Status {
			return false
		}
		if filter.PaymentMethod != "" && i.PaymentMethod != filter.PaymentMethod {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(a, b int) bool { return items[a].ID > items[b].ID })
	if int(filter.Offset) >= len(items) {
		return []*entity.Invoice{}, nil
	}
	return capped(items[filter.Offset:], filter.Limit), nil
}

func (r *InvoiceRepository) ListStaleApproved(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Invoice, error) {
	items, err := r.list(ctx, func(i *entity.Invoice) bool {
		return i.Status == entity.InvoiceApproved && !i.CreatedAt.After(cutoff)
	})
	return capped(items, limit), err
}

func (r *InvoiceRepository) ListPendingPost(ctx context.Context, methods []entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	items, err := r.list(ctx, func(i *entity.Invoice) bool {
		if i.Reference != nil || (i.Status != entity.InvoiceCreated && i.Status != entity.InvoiceApproved) {
			return false
		}
		for _, m := range methods {
			if m == i.PaymentMethod {
				return true
			}
		}
		return false
	})
	return capped(items, limit), err
}

func (r *InvoiceRepository) ListDueDisbursement(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	items, err := r.list(ctx, func(i *entity.Invoice) bool {
		return i.PaymentMethod == method && i.Status == entity.InvoicePaid &&
			(i.DisbursementStatus == entity.DisbursementNone || i.DisbursementStatus == entity.DisbursementErrored)
	})
	return capped(items, limit), err
}

func (r *InvoiceRepository) ListDueDisbursementReversal(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	items, err := r.list(ctx, func(i *entity.Invoice) bool {
		if i.PaymentMethod != method || i.DisbursementStatus != entity.DisbursementCompleted || i.DisbursedCents <= 0 {
			return false
		}
		switch i.Status {
		case entity.InvoiceCancelled, entity.InvoiceRefunded, entity.InvoiceCredited:
			return true
		}
		return i.DisbursedCents > i.TotalCents-i.ServiceFeesCents
	})
	return capped(items, limit), err
}

func (r *InvoiceRepository) ListForStatement(ctx context.Context, accountID uint64, from, to time.Time) ([]*entity.Invoice, error) {
	return r.list(ctx, func(i *entity.Invoice) bool {
		return i.AccountID == accountID && !i.CreatedAt.Before(from) && i.CreatedAt.Before(to)
	})
}

type ReceiptRepository struct{ s *Store }

func (r *ReceiptRepository) Create(ctx context.Context, receipt *entity.Receipt) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("receipts.create"); err != nil {
			return err
		}
		for _, existing := range st.receipts {
			if existing.ReceiptNumber == receipt.ReceiptNumber {
				return repository.ErrReceiptAlreadyExists
			}
		}
		receipt.ID = st.next("receipts")
		st.receipts[receipt.ID] = cloneReceipt(receipt)
		return nil
	})
}

func (r *ReceiptRepository) Update(ctx context.Context, receipt *entity.Receipt) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("receipts.update"); err != nil {
			return err
		}
		if _, ok := st.receipts[receipt.ID]; !ok {
			return repository.ErrReceiptNotFound
		}
		st.receipts[receipt.ID] = cloneReceipt(receipt)
		return nil
	})
}

func (r *ReceiptRepository) FindByID(ctx context.Context, id uint64) (*entity.Receipt, error) {
	items, err := r.list(ctx, func(v *entity.Receipt) bool { return v.ID == id })
	return first(items), err
}

func (r *ReceiptRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Receipt, error) {
	return r.FindByID(ctx, id)
}

func (r *ReceiptRepository) FindByNumber(ctx context.Context, number string) (*entity.Receipt, error) {
	items, err := r.list(ctx, func(v *entity.Receipt) bool { return v.ReceiptNumber == number })
	return first(items), err
}

func (r *ReceiptRepository) ListByInvoiceForUpdate(ctx context.Context, invoiceID uint64) ([]*entity.Receipt, error) {
	return r.list(ctx, func(v *entity.Receipt) bool { return v.InvoiceID != nil && *v.InvoiceID == invoiceID })
}

func (r *ReceiptRepository) ListByRoutingSlip(ctx context.Context, routingSlipID uint64) ([]*entity.Receipt, error) {
	return r.list(ctx, func(v *entity.Receipt) bool { return v.RoutingSlipID != nil && *v.RoutingSlipID == routingSlipID })
}

func (r *ReceiptRepository) list(ctx context.Context, match func(*entity.Receipt) bool) ([]*entity.Receipt, error) {
	out := []*entity.Receipt{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.receipts) {
			if match(st.receipts[id]) {
				out = append(out, cloneReceipt(st.receipts[id]))
			}
		}
		return nil
	})
	return out, err
}

type RoutingSlipRepository struct{ s *Store }

func (r *RoutingSlipRepository) Create(ctx context.Context, slip *entity.RoutingSlip) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("routing_slips.create"); err != nil {
			return err
		}
		for _, existing := range st.slips {
			if existing.Number == slip.Number {
				return repository.ErrRoutingSlipAlreadyExists
			}
		}
		slip.ID = st.next("routing_slips")
		st.slips[slip.ID] = cloneSlip(slip)
		return nil
	})
}

// Update enforces the remaining_cents >= 0 check the table carries.
func (r *RoutingSlipRepository) Update(ctx context.Context, slip *entity.RoutingSlip) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("routing_slips.update"); err != nil {
			return err
		}
		if _, ok := st.slips[slip.ID]; !ok {
			return repository.ErrRoutingSlipNotFound
		}
		if slip.RemainingCents < 0 {
			return errNegativeRemaining
		}
		st.slips[slip.ID] = cloneSlip(slip)
		return nil
	})
}

func (r *RoutingSlipRepository) FindByNumber(ctx context.Context, number string) (*entity.RoutingSlip, error) {
	return r.findOne(ctx, func(v *entity.RoutingSlip) bool { return v.Number == number })
}

func (r *RoutingSlipRepository) FindByNumberForUpdate(ctx context.Context, number string) (*entity.RoutingSlip, error) {
	return r.FindByNumber(ctx, number)
}

func (r *RoutingSlipRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.RoutingSlip, error) {
	return r.findOne(ctx, func(v *entity.RoutingSlip) bool { return v.ID == id })
}

func (r *RoutingSlipRepository) findOne(ctx context.Context, match func(*entity.RoutingSlip) bool) (*entity.RoutingSlip, error) {
	var out *entity.RoutingSlip
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.slips) {
			if match(st.slips[id]) {
				out = cloneSlip(st.slips[id])
				return nil
			}
		}
		return nil
	})
	return out, err
}

type SettlementRepository struct{ s *Store }

func (r *SettlementRepository) CreateRecord(ctx context.Context, record *entity.SettlementRecord) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("settlements.create_record"); err != nil {
			return err
		}
		for _, existing := range st.records {
			if existing.Source == record.Source && existing.ExternalID == record.ExternalID {
				return repository.ErrSettlementRecordExists
			}
		}
		record.ID = st.next("settlement_records")
		c := *record
		st.records[record.ID] = &c
		return nil
	})
}

func (r *SettlementRepository) UpdateRecord(ctx context.Context, record *entity.SettlementRecord) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.records[record.ID]; !ok {
			return repository.ErrSettlementRecordNotFound
		}
		c := *record
		st.records[record.ID] = &c
		return nil
	})
}

func (r *SettlementRepository) FindRecord(ctx context.Context, source entity.SettlementSource, externalID string) (*entity.SettlementRecord, error) {
	var out *entity.SettlementRecord
	err := r.s.with(ctx, func(st *state) error {
		for _, v := range st.records {
			if v.Source == source && v.ExternalID == externalID {
				c := *v
				out = &c
			}
		}
		return nil
	})
	return out, err
}

func (r *SettlementRepository) FindRecordByIDForUpdate(ctx context.Context, id uint64) (*entity.SettlementRecord, error) {
	var out *entity.SettlementRecord
	err := r.s.with(ctx, func(st *state) error {
		if v, ok := st.records[id]; ok {
			c := *v
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *SettlementRepository) ListParked(ctx context.Context, maxAttempts int32, limit int32) ([]*entity.SettlementRecord, error) {
	out := []*entity.SettlementRecord{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.records) {
			v := st.records[id]
			if v.ProcessingStatus == entity.SettlementParked && v.Attempts < maxAttempts {
				c := *v
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return capped(out, limit), err
}

func (r *SettlementRepository) FindFile(ctx context.Context, fileName string) (*entity.SettlementFile, error) {
	var out *entity.SettlementFile
	err := r.s.with(ctx, func(st *state) error {
		if v, ok := st.files[fileName]; ok {
			c := *v
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *SettlementRepository) CreateFile(ctx context.Context, file *entity.SettlementFile) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.files[file.FileName]; ok {
			return repository.ErrSettlementFileExists
		}
		file.ID = st.next("settlement_files")
		c := *file
		st.files[file.FileName] = &c
		return nil
	})
}

type InvoiceEventRepository struct{ s *Store }

func (r *InvoiceEventRepository) Create(ctx context.Context, event *entity.InvoiceEvent) error {
	return r.s.with(ctx, func(st *state) error {
		if err := r.s.fault("events.create"); err != nil {
			return err
		}
		event.ID = st.next("invoice_events")
		c := *event
		st.events[event.ID] = &c
		return nil
	})
}

func (r *InvoiceEventRepository) UpdateDelivery(ctx context.Context, event *entity.InvoiceEvent) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.events[event.ID]; !ok {
			return repository.ErrInvoiceEventNotFound
		}
		c := *event
		st.events[event.ID] = &c
		return nil
	})
}

func (r *InvoiceEventRepository) ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.InvoiceEvent, error) {
	out := []*entity.InvoiceEvent{}
	err := r.s.with(ctx, func(st *state) error {
		for _, id := range sortedKeys(st.events) {
			v := st.events[id]
			if v.DeliveryStatus == entity.EventDeliveryPending && v.DeliveryNextAt != nil && !v.DeliveryNextAt.After(now) {
				c := *v
				out = append(out, &c)
			}
		}
		return nil
	})
	return capped(out, limit), err
}

type ReviewItemRepository struct{ s *Store }

func (r *ReviewItemRepository) Create(ctx context.Context, item *entity.ReviewItem) error {
	return r.s.with(ctx, func(st *state) error {
		item.ID = st.next("review_items")
		c := *item
		st.reviews[item.ID] = &c
		return nil
	})
}

func (r *ReviewItemRepository) ListOpen(ctx context.Context, limit, offset int32) ([]*entity.ReviewItem, error) {
	out := []*entity.ReviewItem{}
	err := r.s.with(ctx, func(st *state) error {
		keys := sortedKeys(st.reviews)
		for i := len(keys) - 1; i >= 0; i-- {
			v := st.reviews[keys[i]]
			if v.Status == entity.ReviewOpen {
				c := *v
				out = append(out, &c)
			}
		}
		return nil
	})
	if int(offset) >= len(out) {
		return []*entity.ReviewItem{}, err
	}
	return capped(out[offset:], limit), err
}

type StatementRepository struct{ s *Store }

func (r *StatementRepository) Create(ctx context.Context, statement *entity.Statement) error {
	return r.s.with(ctx, func(st *state) error {
		for _, v := range st.statements {
			if v.AccountID == statement.AccountID && v.Frequency == statement.Frequency && v.FromDate.Equal(statement.FromDate) {
				return repository.ErrStatementAlreadyExists
			}
		}
		statement.ID = st.next("statements")
		c := *statement
		st.statements[statement.ID] = &c
		return nil
	})
}

func (r *StatementRepository) Find(ctx context.Context, accountID uint64, frequency entity.StatementFrequency, from time.Time) (*entity.Statement, error) {
	var out *entity.Statement
	err := r.s.with(ctx, func(st *state) error {
		for _, v := range st.statements {
			if v.AccountID == accountID && v.Frequency == frequency && v.FromDate.Equal(from) {
				c := *v
				out = &c
			}
		}
		return nil
	})
	return out, err
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errNegativeRemaining = storeError("check constraint violated: routing_slips.remaining_cents >= 0")

func sameRef(a, b *string) bool {
	return a != nil && b != nil && strings.TrimSpace(*a) != "" && *a == *b
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys
}

func capped[T any](items []T, limit int32) []T {
	if limit > 0 && int(limit) < len(items) {
		return items[:limit]
	}
	return items
}

func first[T any](items []*T) *T {
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

func cloneAccount(v *entity.Account) *entity.Account {
	c := *v
	c.CFSPartyNumber = cloneString(v.CFSPartyNumber)
	c.CFSAccountNumber = cloneString(v.CFSAccountNumber)
	c.CFSSiteNumber = cloneString(v.CFSSiteNumber)
	c.BCOLAccountNumber = cloneString(v.BCOLAccountNumber)
	c.PADActivationDate = cloneTime(v.PADActivationDate)
	return &c
}

func cloneInvoice(v *entity.Invoice) *entity.Invoice {
	c := *v
	c.Reference = cloneString(v.Reference)
	c.RoutingSlip = cloneString(v.RoutingSlip)
	c.PaymentDate = cloneTime(v.PaymentDate)
	c.RefundDate = cloneTime(v.RefundDate)
	c.DisbursementDate = cloneTime(v.DisbursementDate)
	c.LineItems = make([]*entity.LineItem, 0, len(v.LineItems))
	for _, li := range v.LineItems {
		if li == nil {
			continue
		}
		lc := *li
		c.LineItems = append(c.LineItems, &lc)
	}
	return &c
}

func cloneReceipt(v *entity.Receipt) *entity.Receipt {
	c := *v
	if v.InvoiceID != nil {
		id := *v.InvoiceID
		c.InvoiceID = &id
	}
	if v.RoutingSlipID != nil {
		id := *v.RoutingSlipID
		c.RoutingSlipID = &id
	}
	return &c
}

func cloneSlip(v *entity.RoutingSlip) *entity.RoutingSlip {
	c := *v
	c.ParentNumber = cloneString(v.ParentNumber)
	if v.AccountID != nil {
		id := *v.AccountID
		c.AccountID = &id
	}
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

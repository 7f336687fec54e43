package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/factory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/settlement"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
	"golang.org/x/sync/errgroup"
)

const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeParked    = "parked"
)

type settlementFileSource interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
	Archive(ctx context.Context, name string) error
}

type IngestResult struct {
	FileName   string
	Source     entity.SettlementSource
	Skipped    bool
	Records    int
	Processed  int
	Duplicates int
	Parked     int
}

func (r *IngestResult) add(outcome string) {
	switch outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeParked:
		r.Parked++
	}
}

// Reconciler matches settlement and feedback records against the ledger.
// Records are deduplicated on (source, external id) in the same transaction
// as the money they move, and records that cannot be matched are parked for
// review instead of being dropped.
type Reconciler struct {
	tx       Transactor
	repos    Repositories
	invoices *InvoiceService
	cfg      config.LedgerConfig
	paybc    config.PayBCConfig
	locks    *keyedMutex
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewReconciler(tx Transactor, repos Repositories, invoices *InvoiceService, cfg config.LedgerConfig, paybc config.PayBCConfig) *Reconciler {
	return &Reconciler{
		tx:       tx,
		repos:    repos,
		invoices: invoices,
		cfg:      cfg,
		paybc:    paybc,
		locks:    newKeyedMutex(),
		logger:   factory.NewModuleLogger("reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IngestFile processes one settlement file. Files already recorded are
// skipped. The file row is only written once every record is either
// processed, a duplicate or parked, so a failed run is picked up again.
func (r *Reconciler) IngestFile(ctx context.Context, source entity.SettlementSource, fileName string, content []byte) (*IngestResult, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || !source.Valid() {
		return nil, ErrInvalidRequest
	}

	result := &IngestResult{FileName: fileName, Source: source}
	existing, err := r.repos.Settlements.FindFile(ctx, fileName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result.Skipped = true
		return result, nil
	}

	records, err := parseSettlementFile(source, fileName, content)
	if err != nil {
		return nil, err
	}
	result.Records = len(records)

	order := make([]string, 0)
	groups := make(map[string][]*settlement.Record)
	for _, rec := range records {
		if _, ok := groups[rec.Reference]; !ok {
			order = append(order, rec.Reference)
		}
		groups[rec.Reference] = append(groups[rec.Reference], rec)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.ReconcileConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, reference := range order {
		group := groups[reference]
		g.Go(func() error {
			for _, rec := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcome, err := r.processRecord(gctx, rec, fileName)
				if err != nil {
					return err
				}
				mu.Lock()
				result.add(outcome)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	file := &entity.SettlementFile{
		FileName:    fileName,
		Source:      source,
		RecordCount: int32(result.Records),
		ParkedCount: int32(result.Parked),
		ProcessedAt: r.now(),
	}
	if err := r.repos.Settlements.CreateFile(ctx, file); err != nil && !errors.Is(err, repository.ErrSettlementFileExists) {
		return result, err
	}

	r.logger.WithFields(logrus.Fields{
		"file_name":  fileName,
		"source":     source,
		"records":    result.Records,
		"processed":  result.Processed,
		"duplicates": result.Duplicates,
		"parked":     result.Parked,
	}).Info("settlement_file_ingested")
	return result, nil
}

func parseSettlementFile(source entity.SettlementSource, fileName string, content []byte) ([]*settlement.Record, error) {
	switch source {
	case entity.SettlementSourceCAS:
		return settlement.ParseCAS(fileName, content)
	case entity.SettlementSourceBCOL, entity.SettlementSourceEJV:
		records, err := settlement.ParseFeedback(fileName, content)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Source != source {
				return nil, fmt.Errorf("%w: file header is %s, expected %s", settlement.ErrMalformedFile, rec.Source, source)
			}
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: %s records arrive as notifications", ErrInvalidRequest, source)
	}
}

// DetectSource guesses the source of a polled file: CSV files come from
// CAS, fixed-width files name their source in the header.
func DetectSource(fileName string, content []byte) (entity.SettlementSource, error) {
	if strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return entity.SettlementSourceCAS, nil
	}
	trimmed := bytes.TrimLeft(content, "\r\n\t ")
	if len(trimmed) >= 6 && trimmed[0] == 'H' {
		source := entity.SettlementSource(strings.TrimSpace(string(trimmed[1:6])))
		if source == entity.SettlementSourceBCOL || source == entity.SettlementSourceEJV {
			return source, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSettlementSourceUndefined, fileName)
}

func (r *Reconciler) processRecord(ctx context.Context, rec *settlement.Record, fileName string) (string, error) {
	unlock := r.locks.Lock(rec.Reference)
	defer unlock()

	existing, err := r.repos.Settlements.FindRecord(ctx, rec.Source, rec.ExternalID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return OutcomeDuplicate, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	now := r.now()
	row := &entity.SettlementRecord{
		Source:           rec.Source,
		ExternalID:       rec.ExternalID,
		Reference:        rec.Reference,
		RecordType:       rec.RecordType,
		TargetStatus:     rec.TargetStatus,
		AmountCents:      rec.AmountCents,
		FileName:         fileName,
		ProcessingStatus: entity.SettlementProcessed,
		PayloadJSON:      string(payload),
		Attempts:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.repos.Settlements.CreateRecord(ctx, row); err != nil {
			return err
		}
		return r.apply(ctx, rec)
	})
	switch {
	case err == nil:
		return OutcomeProcessed, nil
	case errors.Is(err, repository.ErrSettlementRecordExists):
		return OutcomeDuplicate, nil
	case parkable(err):
		return r.park(ctx, rec, row, err)
	default:
		return "", err
	}
}

// parkable reports whether err is about the record itself rather than the
// infrastructure.
func parkable(err error) bool {
	for _, target := range []error{
		ErrReconciliationMismatch,
		ErrInvalidTransition,
		ErrInvalidRequest,
		ErrInvoiceNotFound,
		ErrReceiptAlreadyApplied,
		ErrRoutingSlipNotFound,
		ErrInvalidRoutingSlipStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *Reconciler) park(ctx context.Context, rec *settlement.Record, row *entity.SettlementRecord, cause error) (string, error) {
	ctx = context.WithoutCancel(ctx)
	reason := truncate(cause.Error(), 1024)
	row.ID = 0
	row.ProcessingStatus = entity.SettlementParked
	row.Reason = &reason

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.repos.Settlements.CreateRecord(ctx, row); err != nil {
			return err
		}
		return r.repos.Reviews.Create(ctx, &entity.ReviewItem{
			Kind:        entity.ReviewSettlementMismatch,
			Reference:   rec.Reference,
			Reason:      reason,
			PayloadJSON: &row.PayloadJSON,
			Status:      entity.ReviewOpen,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	})
	if errors.Is(err, repository.ErrSettlementRecordExists) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	r.logger.WithFields(logrus.Fields{
		"alert":       true,
		"source":      rec.Source,
		"external_id": rec.ExternalID,
		"reference":   rec.Reference,
		"record_type": rec.RecordType,
		"reason":      reason,
	}).Error("settlement_record_parked")
	return OutcomeParked, nil
}

// apply drives the ledger for one record. It runs inside the record's
// transaction.
func (r *Reconciler) apply(ctx context.Context, rec *settlement.Record) error {
	switch rec.Action() {
	case settlement.ActionPayment, settlement.ActionCredit:
		return r.applyPayment(ctx, rec)
	case settlement.ActionReversal:
		return r.applyReversal(ctx, rec)
	case settlement.ActionOnAccount:
		return r.applyOnAccount(ctx, rec)
	case settlement.ActionRefund:
		return r.applyRefund(ctx, rec)
	case settlement.ActionDisbursed, settlement.ActionDisbursementRejected:
		return r.applyDisbursement(ctx, rec)
	case settlement.ActionRecordOnly:
		return nil
	default:
		return mismatch("unknown %s record type %q", rec.Source, rec.RecordType)
	}
}

func (r *Reconciler) invoiceFor(ctx context.Context, rec *settlement.Record) (*entity.Invoice, error) {
	if strings.TrimSpace(rec.Reference) == "" {
		return nil, mismatch("record %s has no reference", rec.ExternalID)
	}
	invoice, err := r.repos.Invoices.FindByReferenceForUpdate(ctx, rec.Reference)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, mismatch("no invoice with reference %s", rec.Reference)
	}
	return invoice, nil
}

func (r *Reconciler) applyPayment(ctx context.Context, rec *settlement.Record) error {
	invoice, err := r.invoiceFor(ctx, rec)
	if err != nil {
		return err
	}
	if invoice.Status == entity.InvoicePaid && rec.Source == entity.SettlementSourceBCOL {
		// BCOL charges are settled at creation; the batch only confirms them.
		return nil
	}
	if rec.AmountCents <= 0 {
		return mismatch("record %s has non-positive amount", rec.ExternalID)
	}
	if invoice.Status != entity.InvoiceCreated && invoice.Status != entity.InvoiceApproved && invoice.Status != entity.InvoiceOverdue {
		return mismatch("invoice %s is %s", rec.Reference, invoice.Status)
	}

	due := invoice.DueCents()
	if rec.AmountCents > due {
		return mismatch("record %s applies %d cents, invoice %s owes %d", rec.ExternalID, rec.AmountCents, rec.Reference, due)
	}
	switch rec.TargetStatus {
	case settlement.TargetPaid:
		if rec.AmountCents != due {
			return mismatch("record %s reports %s paid with %d cents, invoice owes %d", rec.ExternalID, rec.Reference, rec.AmountCents, due)
		}
	case settlement.TargetPartial:
		if rec.AmountCents == due {
			return mismatch("record %s reports %s partially paid, %d cents settles it", rec.ExternalID, rec.Reference, rec.AmountCents)
		}
	}

	number := firstNonEmpty(rec.ReceiptNumber, rec.ExternalID)
	now := r.now()
	if err := r.drawOnAccount(ctx, number, rec.AmountCents, now); err != nil {
		return err
	}

	receipt, err := r.applicationReceipt(ctx, number, invoice, rec, now)
	if err != nil {
		return err
	}

	sg := newSaga(r.invoices.connectors, r.logger)
	sg.bind(invoice)
	_, err = r.invoices.applyReceiptLocked(ctx, invoice, receipt, sg, false, rec.AmountCents)
	return err
}

// drawOnAccount takes amount from funds already received under number, if
// any. A receipt that is not yet known needs no draw: the settlement record
// itself is the proof of funds.
func (r *Reconciler) drawOnAccount(ctx context.Context, number string, amount int64, now time.Time) error {
	found, err := r.repos.Receipts.FindByNumber(ctx, number)
	if err != nil || found == nil {
		return err
	}
	pool, err := r.repos.Receipts.FindByIDForUpdate(ctx, found.ID)
	if err != nil {
		return err
	}
	if pool.RoutingSlipID != nil || pool.InvoiceID != nil || pool.Status == entity.ReceiptReversed {
		return mismatch("receipt %s is not on account", number)
	}
	if pool.UnappliedCents() < amount {
		return mismatch("receipt %s has %d cents left, record applies %d", number, pool.UnappliedCents(), amount)
	}
	pool.AppliedCents += amount
	if pool.UnappliedCents() == 0 {
		pool.Status = entity.ReceiptApplied
	}
	pool.UpdatedAt = now
	return r.repos.Receipts.Update(ctx, pool)
}

// applicationReceipt returns the locked receipt holding number's
// applications to invoice, topped up by the record amount. One external
// receipt commonly pays several invoices, each through its own row.
func (r *Reconciler) applicationReceipt(ctx context.Context, number string, invoice *entity.Invoice, rec *settlement.Record, now time.Time) (*entity.Receipt, error) {
	appNumber := fmt.Sprintf("%s-%d", number, invoice.ID)
	found, err := r.repos.Receipts.FindByNumber(ctx, appNumber)
	if err != nil {
		return nil, err
	}
	if found != nil {
		receipt, err := r.repos.Receipts.FindByIDForUpdate(ctx, found.ID)
		if err != nil {
			return nil, err
		}
		if receipt.Status == entity.ReceiptReversed {
			return nil, mismatch("receipt %s was reversed", appNumber)
		}
		receipt.AmountCents += rec.AmountCents
		return receipt, nil
	}

	receiptDate := rec.AppliedAt
	if receiptDate.IsZero() {
		receiptDate = now
	}
	receipt := &entity.Receipt{
		ReceiptNumber: appNumber,
		AmountCents:   rec.AmountCents,
		Status:        entity.ReceiptUnapplied,
		ReceiptDate:   receiptDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repos.Receipts.Create(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (r *Reconciler) applyReversal(ctx context.Context, rec *settlement.Record) error {
	invoice, err := r.repos.Invoices.FindByReferenceForUpdate(ctx, rec.Reference)
	if err != nil {
		return err
	}
	if invoice == nil {
		return r.applySlipNSF(ctx, rec)
	}

	switch invoice.Status {
	case entity.InvoiceOverdue:
		return nil
	case entity.InvoicePaid, entity.InvoiceApproved:
		sg := newSaga(r.invoices.connectors, r.logger)
		sg.bind(invoice)
		return r.invoices.applyTrigger(ctx, invoice, entity.TriggerMarkOverdue, sg, transitionOptions{
			confirmed: true,
			reason:    firstNonEmpty(rec.ReversalReason, "payment reversed"),
		})
	default:
		return mismatch("cannot reverse payment on %s invoice %s", invoice.Status, rec.Reference)
	}
}

// applySlipNSF handles a reversal keyed by routing slip number: the cheque
// behind the slip bounced.
func (r *Reconciler) applySlipNSF(ctx context.Context, rec *settlement.Record) error {
	slip, err := r.repos.RoutingSlips.FindByNumberForUpdate(ctx, rec.Reference)
	if err != nil {
		return err
	}
	if slip == nil {
		return mismatch("no invoice or routing slip with reference %s", rec.Reference)
	}
	if slip.Status == entity.RoutingSlipNSF {
		return nil
	}
	if !routingSlipMoveAllowed(slip.Status, entity.RoutingSlipNSF) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidRoutingSlipStatus, slip.Status, entity.RoutingSlipNSF)
	}
	slip.Status = entity.RoutingSlipNSF
	slip.RemainingCents = 0
	slip.UpdatedAt = r.now()
	return r.repos.RoutingSlips.Update(ctx, slip)
}

func (r *Reconciler) applyOnAccount(ctx context.Context, rec *settlement.Record) error {
	if rec.AmountCents <= 0 {
		return mismatch("record %s has non-positive amount", rec.ExternalID)
	}
	number := firstNonEmpty(rec.ReceiptNumber, rec.ExternalID)
	existing, err := r.repos.Receipts.FindByNumber(ctx, number)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := r.now()
	receiptDate := rec.AppliedAt
	if receiptDate.IsZero() {
		receiptDate = now
	}
	return r.repos.Receipts.Create(ctx, &entity.Receipt{
		ReceiptNumber: number,
		AmountCents:   rec.AmountCents,
		Status:        entity.ReceiptUnapplied,
		ReceiptDate:   receiptDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func (r *Reconciler) applyRefund(ctx context.Context, rec *settlement.Record) error {
	invoice, err := r.invoiceFor(ctx, rec)
	if err != nil {
		return err
	}
	switch invoice.Status {
	case entity.InvoiceRefunded:
		return nil
	case entity.InvoiceRefundRequested, entity.InvoicePaid:
		if rec.AmountCents != invoice.PaidCents {
			return mismatch("refund of %d cents does not match paid amount %d on %s", rec.AmountCents, invoice.PaidCents, rec.Reference)
		}
		sg := newSaga(r.invoices.connectors, r.logger)
		sg.bind(invoice)
		return r.invoices.applyTrigger(ctx, invoice, entity.TriggerRefund, sg, transitionOptions{
			confirmed: true,
			reason:    "refund confirmed by " + string(rec.Source),
		})
	default:
		return mismatch("refund for %s invoice %s", invoice.Status, rec.Reference)
	}
}

func (r *Reconciler) applyDisbursement(ctx context.Context, rec *settlement.Record) error {
	invoice, err := r.invoiceFor(ctx, rec)
	if err != nil {
		return err
	}

	target := entity.DisbursementCompleted
	if rec.Action() == settlement.ActionDisbursementRejected {
		target = entity.DisbursementErrored
	}
	if invoice.DisbursementStatus == target {
		return nil
	}
	if invoice.DisbursementStatus != entity.DisbursementAcknowledged {
		return mismatch("disbursement feedback for %s in status %q", rec.Reference, invoice.DisbursementStatus)
	}

	now := r.now()
	invoice.DisbursementStatus = target
	invoice.DisbursementDate = &now
	invoice.UpdatedAt = now
	if target == entity.DisbursementErrored {
		invoice.DisbursedCents = 0
	}
	if err := r.repos.Invoices.Update(ctx, invoice); err != nil {
		return err
	}
	if target == entity.DisbursementErrored {
		r.logger.WithFields(logrus.Fields{
			"reference":   rec.Reference,
			"return_code": rec.Fields["return_code"],
			"message":     rec.ReversalReason,
		}).Warn("disbursement_rejected")
	}
	return r.invoices.recordEvent(ctx, invoice, "disbursement_"+strings.ToLower(string(target)), nil, rec.ReversalReason)
}

// HandlePayBCNotification verifies and applies a PayBC webhook.
func (r *Reconciler) HandlePayBCNotification(ctx context.Context, payload []byte, signature string) (string, error) {
	rec, err := settlement.ParsePayBCNotification(payload, signature, r.paybc.WebhookSecret, r.paybc.SignatureToleranceSeconds, r.now())
	if err != nil {
		if errors.Is(err, settlement.ErrInvalidSignature) {
			r.logger.Warn("paybc_notification_rejected")
			return "", fmt.Errorf("%w: %v", ErrNotificationRejected, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return r.processRecord(ctx, rec, "paybc-webhook")
}

// RunRetryParkedBatch re-matches parked records, for example once the
// invoice they refer to has been posted. Records still unmatched count an
// attempt and stay parked.
func (r *Reconciler) RunRetryParkedBatch(ctx context.Context, limit int32) (int, error) {
	maxAttempts := r.cfg.ParkedMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	items, err := r.repos.Settlements.ListParked(ctx, maxAttempts, batchSize(limit))
	if err != nil {
		return 0, err
	}

	resolved := 0
	var firstErr error
	for _, listed := range items {
		ok, err := r.retryParked(ctx, listed)
		if err != nil {
			r.logger.WithError(err).WithField("external_id", listed.ExternalID).Error("parked_record_retry_failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, firstErr
}

func (r *Reconciler) retryParked(ctx context.Context, listed *entity.SettlementRecord) (bool, error) {
	var rec settlement.Record
	if err := json.Unmarshal([]byte(listed.PayloadJSON), &rec); err != nil {
		return false, err
	}

	unlock := r.locks.Lock(rec.Reference)
	defer unlock()

	resolved := false
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := r.repos.Settlements.FindRecordByIDForUpdate(ctx, listed.ID)
		if err != nil {
			return err
		}
		if row == nil || row.ProcessingStatus != entity.SettlementParked {
			return nil
		}
		if err := r.apply(ctx, &rec); err != nil {
			return err
		}
		row.ProcessingStatus = entity.SettlementProcessed
		row.Reason = nil
		row.Attempts++
		row.UpdatedAt = r.now()
		resolved = true
		return r.repos.Settlements.UpdateRecord(ctx, row)
	})
	if err == nil {
		return resolved, nil
	}
	if !parkable(err) {
		return false, err
	}

	reason := truncate(err.Error(), 1024)
	err = r.tx.WithinTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		row, err := r.repos.Settlements.FindRecordByIDForUpdate(ctx, listed.ID)
		if err != nil || row == nil {
			return err
		}
		row.Attempts++
		row.Reason = &reason
		row.UpdatedAt = r.now()
		return r.repos.Settlements.UpdateRecord(ctx, row)
	})
	return false, err
}

// RunPollSettlements ingests every file waiting at src and archives the
// ones that were ingested or had already been seen.
func (r *Reconciler) RunPollSettlements(ctx context.Context, src settlementFileSource) (int, error) {
	names, err := src.List(ctx)
	if err != nil {
		return 0, err
	}

	ingested := 0
	var firstErr error
	for _, name := range names {
		log := r.logger.WithField("file_name", name)
		content, err := src.Fetch(ctx, name)
		if err != nil {
			log.WithError(err).Error("settlement_file_fetch_failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		source, err := DetectSource(name, content)
		if err != nil {
			log.WithError(err).Error("settlement_file_unrecognized")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		result, err := r.IngestFile(ctx, source, name, content)
		if err != nil {
			log.WithError(err).Error("settlement_file_ingest_failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if err := src.Archive(ctx, name); err != nil {
			log.WithError(err).Warn("settlement_file_archive_failed")
		}
		if !result.Skipped {
			ingested++
		}
	}
	return ingested, firstErr
}

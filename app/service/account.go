package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/factory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

type AccountService struct {
	tx         Transactor
	repos      Repositories
	connectors *connector.Registry
	cfg        config.LedgerConfig
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewAccountService(tx Transactor, repos Repositories, connectors *connector.Registry, cfg config.LedgerConfig) *AccountService {
	return &AccountService{
		tx:         tx,
		repos:      repos,
		connectors: connectors,
		cfg:        cfg,
		logger:     factory.NewModuleLogger("account-service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount stores a payer. Accounts billed through CFS get their
// party, account and site created before the row is committed.
func (s *AccountService) CreateAccount(ctx context.Context, req *types.CreateAccountRequest) (*entity.Account, error) {
	name := strings.TrimSpace(req.Name)
	method := entity.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if name == "" || !method.Valid() {
		return nil, ErrInvalidRequest
	}
	frequency := entity.StatementFrequency(strings.ToUpper(strings.TrimSpace(req.StatementFrequency)))
	switch frequency {
	case "":
		frequency = entity.StatementMonthly
	case entity.StatementDaily, entity.StatementWeekly, entity.StatementMonthly:
	default:
		return nil, fmt.Errorf("%w: unknown statement frequency %s", ErrInvalidRequest, frequency)
	}

	now := s.now()
	account := &entity.Account{
		Name:               name,
		PaymentMethod:      method,
		Billable:           req.Billable,
		CFSStatus:          entity.CFSAccountActive,
		StatementFrequency: frequency,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if bcol := strings.TrimSpace(req.BcolAccountNumber); bcol != "" {
		account.BCOLAccountNumber = &bcol
	}
	if method == entity.PaymentMethodBCOL && account.BCOLAccountNumber == nil {
		return nil, fmt.Errorf("%w: bcol_account_number is required for %s", ErrInvalidRequest, method)
	}
	if method == entity.PaymentMethodPAD {
		activation := now.Add(s.cfg.PADConfirmationPeriod)
		account.CFSStatus = entity.CFSAccountPendingPADActivation
		account.PADActivationDate = &activation
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Accounts.Create(ctx, account); err != nil {
			return err
		}
		handler, _ := handlerFor(method)
		if !handler.postsToCFS {
			return nil
		}
		if err := s.createCFSAccount(ctx, account); err != nil {
			return err
		}
		account.UpdatedAt = s.now()
		return s.repos.Accounts.Update(ctx, account)
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_method", method).Warn("account_create_failed")
		return nil, err
	}
	return account, nil
}

func (s *AccountService) createCFSAccount(ctx context.Context, account *entity.Account) error {
	cfs, err := s.connectors.Get(connector.SystemCFS)
	if err != nil {
		return err
	}
	correlationID := fmt.Sprintf("account:%d", account.ID)
	attrs := map[string]string{"name": account.Name, "profile_class": "PAY_CUSTOMER"}

	party, err := cfs.Submit(ctx, &connector.Request{Operation: connector.OpCreateParty, CorrelationID: correlationID, Attributes: attrs})
	if err != nil {
		return err
	}
	acc, err := cfs.Submit(ctx, &connector.Request{
		Operation:     connector.OpCreateAccount,
		CorrelationID: correlationID,
		PartyNumber:   party.Reference,
		Attributes:    attrs,
	})
	if err != nil {
		return err
	}
	site, err := cfs.Submit(ctx, &connector.Request{
		Operation:     connector.OpCreateSite,
		CorrelationID: correlationID,
		PartyNumber:   party.Reference,
		AccountNumber: acc.Reference,
		Attributes:    attrs,
	})
	if err != nil {
		return err
	}

	account.CFSPartyNumber = stringPtr(party.Reference)
	account.CFSAccountNumber = stringPtr(acc.Reference)
	account.CFSSiteNumber = stringPtr(site.Reference)
	return nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uint64) (*entity.Account, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}
	account, err := s.repos.Accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// RunActivatePADBatch activates PAD accounts whose confirmation period has
// ended. Accounts changed since they were listed are skipped.
func (s *AccountService) RunActivatePADBatch(ctx context.Context, limit int32) (int, error) {
	now := s.now()
	accounts, err := s.repos.Accounts.ListPendingPADActivation(ctx, now, batchSize(limit))
	if err != nil {
		return 0, err
	}

	activated := 0
	var firstErr error
	for _, listed := range accounts {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			account, err := s.repos.Accounts.FindByIDForUpdate(ctx, listed.ID)
			if err != nil {
				return err
			}
			if account == nil || account.CFSStatus != entity.CFSAccountPendingPADActivation {
				return nil
			}
			if account.PADActivationDate != nil && account.PADActivationDate.After(now) {
				return nil
			}
			account.CFSStatus = entity.CFSAccountActive
			account.UpdatedAt = now
			if err := s.repos.Accounts.Update(ctx, account); err != nil {
				return err
			}
			activated++
			return nil
		})
		if err != nil {
			s.logger.WithError(err).WithField("account_id", listed.ID).Error("pad_activation_failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}
	return activated, firstErr
}

type statementPeriod struct {
	frequency entity.StatementFrequency
	from      time.Time
	to        time.Time
}

// statementPeriods returns the periods that close on date: the previous day
// always, the previous week on Mondays and the previous month on the first.
func statementPeriods(date time.Time) []statementPeriod {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	periods := []statementPeriod{{frequency: entity.StatementDaily, from: day.AddDate(0, 0, -1), to: day}}
	if day.Weekday() == time.Monday {
		periods = append(periods, statementPeriod{frequency: entity.StatementWeekly, from: day.AddDate(0, 0, -7), to: day})
	}
	if day.Day() == 1 {
		periods = append(periods, statementPeriod{frequency: entity.StatementMonthly, from: day.AddDate(0, -1, 0), to: day})
	}
	return periods
}

// RunGenerateStatements creates the statements closing on date. Existing
// statements are left alone so the job can be re-run for a backfill.
func (s *AccountService) RunGenerateStatements(ctx context.Context, date time.Time, limit int32) (int, error) {
	created := 0
	var firstErr error
	for _, period := range statementPeriods(date) {
		var afterID uint64
		for {
			accounts, err := s.repos.Accounts.ListByStatementFrequency(ctx, period.frequency, afterID, batchSize(limit))
			if err != nil {
				return created, err
			}
			if len(accounts) == 0 {
				break
			}
			for _, account := range accounts {
				afterID = account.ID
				ok, err := s.generateStatement(ctx, account, period)
				if err != nil {
					s.logger.WithError(err).WithFields(logrus.Fields{
						"account_id": account.ID,
						"frequency":  period.frequency,
					}).Error("statement_generation_failed")
					firstErr = keepFirstErr(firstErr, err)
					continue
				}
				if ok {
					created++
				}
			}
		}
	}
	return created, firstErr
}

func (s *AccountService) generateStatement(ctx context.Context, account *entity.Account, period statementPeriod) (bool, error) {
	existing, err := s.repos.Statements.Find(ctx, account.ID, period.frequency, period.from)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	invoices, err := s.repos.Invoices.ListForStatement(ctx, account.ID, period.from, period.to)
	if err != nil {
		return false, err
	}
	statement := &entity.Statement{
		AccountID: account.ID,
		Frequency: period.frequency,
		FromDate:  period.from,
		ToDate:    period.to,
		CreatedAt: s.now(),
	}
	for _, invoice := range invoices {
		if invoice.Status == entity.InvoiceCancelled {
			continue
		}
		statement.InvoiceCount++
		statement.TotalCents += invoice.TotalCents
	}

	if err := s.repos.Statements.Create(ctx, statement); err != nil {
		if errors.Is(err, repository.ErrStatementAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/factory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/mapper"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/service"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

type LedgerController struct {
	invoiceService *service.InvoiceService
	accountService *service.AccountService
	reconciler     *service.Reconciler
	logger         logrus.FieldLogger
}

func NewLedgerController(invoiceService *service.InvoiceService, accountService *service.AccountService, reconciler *service.Reconciler) *LedgerController {
	return &LedgerController{
		invoiceService: invoiceService,
		accountService: accountService,
		reconciler:     reconciler,
		logger:         factory.NewModuleLogger("ledger-controller"),
	}
}

func (c *LedgerController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *LedgerController) CreateInvoice(ctx echo.Context) error {
	req, err := types.NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.CreateInvoice(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Create invoice failed")
	}

	return ctx.JSON(http.StatusCreated, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (c *LedgerController) GetInvoice(ctx echo.Context) error {
	req, err := types.NewGetInvoiceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.GetInvoice(ctx.Request().Context(), req.Id)
	if err != nil {
		return c.writeServiceError(ctx, err, "Get invoice failed")
	}

	return ctx.JSON(http.StatusOK, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (c *LedgerController) ListInvoices(ctx echo.Context) error {
	req, err := types.NewListInvoicesRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.invoiceService.ListInvoices(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "List invoices failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListInvoicesResponse{Invoices: mapper.InvoicesToProto(items)})
}

// TransitionInvoice returns a handler bound to trigger. An empty trigger
// reads it from the request body.
func (c *LedgerController) TransitionInvoice(trigger entity.InvoiceTrigger) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req, err := types.NewTransitionInvoiceRequestFromContext(ctx, string(trigger))
		if err != nil {
			return c.writeError(ctx, http.StatusBadRequest, "invalid request")
		}
		if err := req.Validate(); err != nil {
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		}

		item, err := c.invoiceService.Transition(ctx.Request().Context(), req.Id, entity.InvoiceTrigger(req.Trigger))
		if err != nil {
			return c.writeServiceError(ctx, err, "Invoice transition failed")
		}

		return ctx.JSON(http.StatusOK, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
	}
}

func (c *LedgerController) PartialCancel(ctx echo.Context) error {
	req, err := types.NewPartialCancelRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.PartialCancel(ctx.Request().Context(), req.Id, req.LineItemIds)
	if err != nil {
		return c.writeServiceError(ctx, err, "Partial cancel failed")
	}

	return ctx.JSON(http.StatusOK, &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)})
}

func (c *LedgerController) CreateReceipt(ctx echo.Context) error {
	req, err := types.NewCreateReceiptRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.CreateReceipt(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Create receipt failed")
	}

	return ctx.JSON(http.StatusCreated, &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)})
}

func (c *LedgerController) GetReceipt(ctx echo.Context) error {
	req, err := types.NewGetReceiptRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.GetReceipt(ctx.Request().Context(), req.Id)
	if err != nil {
		return c.writeServiceError(ctx, err, "Get receipt failed")
	}

	return ctx.JSON(http.StatusOK, &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)})
}

func (c *LedgerController) ApplyReceipt(ctx echo.Context) error {
	req, err := types.NewApplyReceiptRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	invoice, receipt, err := c.invoiceService.ApplyReceipt(ctx.Request().Context(), req.ReceiptId, req.InvoiceId)
	if err != nil {
		return c.writeServiceError(ctx, err, "Apply receipt failed")
	}

	return ctx.JSON(http.StatusOK, &types.ReceiptEnvelopeResponse{
		Receipt: mapper.ReceiptToProto(receipt),
		Invoice: mapper.InvoiceToProto(invoice),
	})
}

func (c *LedgerController) UnapplyReceipt(ctx echo.Context) error {
	req, err := types.NewGetReceiptRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.UnapplyReceipt(ctx.Request().Context(), req.Id)
	if err != nil {
		return c.writeServiceError(ctx, err, "Unapply receipt failed")
	}

	return ctx.JSON(http.StatusOK, &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)})
}

func (c *LedgerController) CreateRoutingSlip(ctx echo.Context) error {
	req, err := types.NewCreateRoutingSlipRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.CreateRoutingSlip(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Create routing slip failed")
	}

	return ctx.JSON(http.StatusCreated, &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)})
}

func (c *LedgerController) GetRoutingSlip(ctx echo.Context) error {
	req, err := types.NewGetRoutingSlipRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.GetRoutingSlip(ctx.Request().Context(), req.Number)
	if err != nil {
		return c.writeServiceError(ctx, err, "Get routing slip failed")
	}

	return ctx.JSON(http.StatusOK, &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)})
}

func (c *LedgerController) ChangeRoutingSlipStatus(ctx echo.Context) error {
	req, err := types.NewChangeRoutingSlipStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.ChangeRoutingSlipStatus(ctx.Request().Context(), req.Number, entity.RoutingSlipStatus(req.Status))
	if err != nil {
		return c.writeServiceError(ctx, err, "Change routing slip status failed")
	}

	return ctx.JSON(http.StatusOK, &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)})
}

func (c *LedgerController) LinkRoutingSlip(ctx echo.Context) error {
	req, err := types.NewLinkRoutingSlipRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.invoiceService.LinkRoutingSlip(ctx.Request().Context(), req.Number, req.ParentNumber)
	if err != nil {
		return c.writeServiceError(ctx, err, "Link routing slip failed")
	}

	return ctx.JSON(http.StatusOK, &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)})
}

func (c *LedgerController) CreateAccount(ctx echo.Context) error {
	req, err := types.NewCreateAccountRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.accountService.CreateAccount(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Create account failed")
	}

	return ctx.JSON(http.StatusCreated, &types.AccountEnvelopeResponse{Account: mapper.AccountToProto(item)})
}

func (c *LedgerController) GetAccount(ctx echo.Context) error {
	req, err := types.NewGetAccountRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.accountService.GetAccount(ctx.Request().Context(), req.Id)
	if err != nil {
		return c.writeServiceError(ctx, err, "Get account failed")
	}

	return ctx.JSON(http.StatusOK, &types.AccountEnvelopeResponse{Account: mapper.AccountToProto(item)})
}

func (c *LedgerController) HandlePayBCNotification(ctx echo.Context) error {
	req, err := types.NewPayBCNotificationRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	outcome, err := c.reconciler.HandlePayBCNotification(ctx.Request().Context(), req.Payload, req.Signature)
	if err != nil {
		return c.writeServiceError(ctx, err, "Handle PayBC notification failed")
	}

	return ctx.JSON(http.StatusOK, &types.NotificationResponse{Outcome: outcome})
}

func (c *LedgerController) writeServiceError(ctx echo.Context, err error, logMessage string) error {
	l := factory.LoggerWithContext(c.logger, ctx)
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrPaymentMethodUnsupported):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotificationRejected):
		return c.writeError(ctx, http.StatusUnauthorized, "notification rejected")
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrInvoiceNotFound),
		errors.Is(err, service.ErrReceiptNotFound), errors.Is(err, service.ErrRoutingSlipNotFound):
		return c.writeError(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCompensationFailed):
		l.WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "compensation failed, flagged for review")
	case errors.Is(err, service.ErrReceiptAlreadyExists), errors.Is(err, service.ErrRoutingSlipAlreadyExists),
		errors.Is(err, service.ErrReceiptAlreadyApplied), errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidRoutingSlipStatus), errors.Is(err, service.ErrReconciliationMismatch):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	case connector.IsTransient(err):
		l.WithError(err).Warn(logMessage)
		return c.writeError(ctx, http.StatusServiceUnavailable, "upstream system unavailable")
	case connector.IsPermanent(err):
		l.WithError(err).Warn(logMessage)
		return c.writeError(ctx, http.StatusBadGateway, "upstream system rejected the request")
	default:
		l.WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *LedgerController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

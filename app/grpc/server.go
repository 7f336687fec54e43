package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/mapper"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/service"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "payledger.LedgerService"

type Server struct {
	invoiceService *service.InvoiceService
	accountService *service.AccountService
}

func NewServer(invoiceService *service.InvoiceService, accountService *service.AccountService) *Server {
	return &Server{invoiceService: invoiceService, accountService: accountService}
}

func (s *Server) Health(_ context.Context, _ *types.HealthRequest) (*types.HealthResponse, error) {
	return &types.HealthResponse{Status: "ok"}, nil
}

func (s *Server) CreateInvoice(ctx context.Context, req *types.CreateInvoiceRequest) (*types.InvoiceEnvelopeResponse, error) {
	l := loggerWithContext(ctx)
	if strings.TrimSpace(req.RequestId) == "" {
		req.RequestId = RequestIDFromContext(ctx)
	}
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create invoice validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.CreateInvoice(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err, "Create invoice failed")
	}
	return &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)}, nil
}

func (s *Server) GetInvoice(ctx context.Context, req *types.GetInvoiceRequest) (*types.InvoiceEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.GetInvoice(ctx, req.Id)
	if err != nil {
		return nil, toStatus(ctx, err, "Get invoice failed")
	}
	return &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)}, nil
}

func (s *Server) ListInvoices(ctx context.Context, req *types.ListInvoicesRequest) (*types.ListInvoicesResponse, error) {
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, err := s.invoiceService.ListInvoices(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err, "List invoices failed")
	}
	return &types.ListInvoicesResponse{Invoices: mapper.InvoicesToProto(items)}, nil
}

func (s *Server) TransitionInvoice(ctx context.Context, req *types.TransitionInvoiceRequest) (*types.InvoiceEnvelopeResponse, error) {
	req.Trigger = strings.ToLower(strings.TrimSpace(req.Trigger))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.Transition(ctx, req.Id, entity.InvoiceTrigger(req.Trigger))
	if err != nil {
		return nil, toStatus(ctx, err, "Invoice transition failed")
	}
	return &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)}, nil
}

func (s *Server) PartialCancel(ctx context.Context, req *types.PartialCancelRequest) (*types.InvoiceEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.PartialCancel(ctx, req.Id, req.LineItemIds)
	if err != nil {
		return nil, toStatus(ctx, err, "Partial cancel failed")
	}
	return &types.InvoiceEnvelopeResponse{Invoice: mapper.InvoiceToProto(item)}, nil
}

func (s *Server) CreateReceipt(ctx context.Context, req *types.CreateReceiptRequest) (*types.ReceiptEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.CreateReceipt(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err, "Create receipt failed")
	}
	return &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)}, nil
}

func (s *Server) GetReceipt(ctx context.Context, req *types.GetReceiptRequest) (*types.ReceiptEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.GetReceipt(ctx, req.Id)
	if err != nil {
		return nil, toStatus(ctx, err, "Get receipt failed")
	}
	return &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)}, nil
}

func (s *Server) ApplyReceipt(ctx context.Context, req *types.ApplyReceiptRequest) (*types.ReceiptEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	invoice, receipt, err := s.invoiceService.ApplyReceipt(ctx, req.ReceiptId, req.InvoiceId)
	if err != nil {
		return nil, toStatus(ctx, err, "Apply receipt failed")
	}
	return &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(receipt), Invoice: mapper.InvoiceToProto(invoice)}, nil
}

func (s *Server) UnapplyReceipt(ctx context.Context, req *types.GetReceiptRequest) (*types.ReceiptEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.UnapplyReceipt(ctx, req.Id)
	if err != nil {
		return nil, toStatus(ctx, err, "Unapply receipt failed")
	}
	return &types.ReceiptEnvelopeResponse{Receipt: mapper.ReceiptToProto(item)}, nil
}

func (s *Server) CreateRoutingSlip(ctx context.Context, req *types.CreateRoutingSlipRequest) (*types.RoutingSlipEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.CreateRoutingSlip(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err, "Create routing slip failed")
	}
	return &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)}, nil
}

func (s *Server) GetRoutingSlip(ctx context.Context, req *types.GetRoutingSlipRequest) (*types.RoutingSlipEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.GetRoutingSlip(ctx, req.Number)
	if err != nil {
		return nil, toStatus(ctx, err, "Get routing slip failed")
	}
	return &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)}, nil
}

func (s *Server) ChangeRoutingSlipStatus(ctx context.Context, req *types.ChangeRoutingSlipStatusRequest) (*types.RoutingSlipEnvelopeResponse, error) {
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.ChangeRoutingSlipStatus(ctx, req.Number, entity.RoutingSlipStatus(req.Status))
	if err != nil {
		return nil, toStatus(ctx, err, "Change routing slip status failed")
	}
	return &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)}, nil
}

func (s *Server) LinkRoutingSlip(ctx context.Context, req *types.LinkRoutingSlipRequest) (*types.RoutingSlipEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.invoiceService.LinkRoutingSlip(ctx, req.Number, req.ParentNumber)
	if err != nil {
		return nil, toStatus(ctx, err, "Link routing slip failed")
	}
	return &types.RoutingSlipEnvelopeResponse{RoutingSlip: mapper.RoutingSlipToProto(item)}, nil
}

func (s *Server) CreateAccount(ctx context.Context, req *types.CreateAccountRequest) (*types.AccountEnvelopeResponse, error) {
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	req.StatementFrequency = strings.ToUpper(strings.TrimSpace(req.StatementFrequency))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.accountService.CreateAccount(ctx, req)
	if err != nil {
		return nil, toStatus(ctx, err, "Create account failed")
	}
	return &types.AccountEnvelopeResponse{Account: mapper.AccountToProto(item)}, nil
}

func (s *Server) GetAccount(ctx context.Context, req *types.GetAccountRequest) (*types.AccountEnvelopeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.accountService.GetAccount(ctx, req.Id)
	if err != nil {
		return nil, toStatus(ctx, err, "Get account failed")
	}
	return &types.AccountEnvelopeResponse{Account: mapper.AccountToProto(item)}, nil
}

func toStatus(ctx context.Context, err error, logMessage string) error {
	l := loggerWithContext(ctx)
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrPaymentMethodUnsupported):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrInvoiceNotFound),
		errors.Is(err, service.ErrReceiptNotFound), errors.Is(err, service.ErrRoutingSlipNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrReceiptAlreadyExists), errors.Is(err, service.ErrRoutingSlipAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrCompensationFailed):
		l.WithError(err).Error(logMessage)
		return status.Error(codes.Internal, "compensation failed, flagged for review")
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrInvalidRoutingSlipStatus),
		errors.Is(err, service.ErrReceiptAlreadyApplied), errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrReconciliationMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case connector.IsTransient(err):
		l.WithError(err).Warn(logMessage)
		return status.Error(codes.Unavailable, "upstream system unavailable")
	case connector.IsPermanent(err):
		l.WithError(err).Warn(logMessage)
		return status.Error(codes.Aborted, "upstream system rejected the request")
	default:
		l.WithError(err).Error(logMessage)
		return status.Error(codes.Internal, "internal server error")
	}
}

// The service has no generated stubs. Every method exchanges a
// google.protobuf.Struct whose fields follow the JSON shape of the REST API.
type LedgerServiceServer interface {
	Health(context.Context, *types.HealthRequest) (*types.HealthResponse, error)
	CreateInvoice(context.Context, *types.CreateInvoiceRequest) (*types.InvoiceEnvelopeResponse, error)
	GetInvoice(context.Context, *types.GetInvoiceRequest) (*types.InvoiceEnvelopeResponse, error)
}

func RegisterLedgerServiceServer(registrar grpc.ServiceRegistrar, srv *Server) {
	registrar.RegisterService(&LedgerServiceDesc, srv)
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Health", (*Server).Health),
		unary("CreateInvoice", (*Server).CreateInvoice),
		unary("GetInvoice", (*Server).GetInvoice),
		unary("ListInvoices", (*Server).ListInvoices),
		unary("TransitionInvoice", (*Server).TransitionInvoice),
		unary("PartialCancel", (*Server).PartialCancel),
		unary("CreateReceipt", (*Server).CreateReceipt),
		unary("GetReceipt", (*Server).GetReceipt),
		unary("ApplyReceipt", (*Server).ApplyReceipt),
		unary("UnapplyReceipt", (*Server).UnapplyReceipt),
		unary("CreateRoutingSlip", (*Server).CreateRoutingSlip),
		unary("GetRoutingSlip", (*Server).GetRoutingSlip),
		unary("ChangeRoutingSlipStatus", (*Server).ChangeRoutingSlipStatus),
		unary("LinkRoutingSlip", (*Server).LinkRoutingSlip),
		unary("CreateAccount", (*Server).CreateAccount),
		unary("GetAccount", (*Server).GetAccount),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payledger/ledger.proto",
}

func unary[Req any, Resp any](method string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, raw interface{}) (interface{}, error) {
				req := new(Req)
				if err := fromStruct(raw.(*structpb.Struct), req); err != nil {
					return nil, status.Error(codes.InvalidArgument, "invalid request message")
				}
				resp, err := call(srv.(*Server), ctx, req)
				if err != nil {
					return nil, err
				}
				return toStruct(resp)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fromStruct(in *structpb.Struct, out interface{}) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toStruct(in interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return structpb.NewStruct(m)
}

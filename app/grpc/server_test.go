package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository/memory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/service"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type grpcConnector struct {
	system connector.System
	err    error
}

func (c *grpcConnector) System() connector.System {
	return c.system
}

func (c *grpcConnector) Submit(_ context.Context, req *connector.Request) (*connector.Ack, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &connector.Ack{System: c.system, Operation: req.Operation, Reference: fmt.Sprintf("%s-ack", c.system)}, nil
}

func newTestServer(bcolErr error) *Server {
	store := memory.NewStore()
	repos := service.Repositories{
		Accounts:     store.Accounts(),
		Invoices:     store.Invoices(),
		Receipts:     store.Receipts(),
		RoutingSlips: store.RoutingSlips(),
		Settlements:  store.Settlements(),
		Events:       store.Events(),
		Reviews:      store.Reviews(),
		Statements:   store.Statements(),
	}
	registry := connector.NewRegistry(
		&grpcConnector{system: connector.SystemCFS},
		&grpcConnector{system: connector.SystemBCOL, err: bcolErr},
		&grpcConnector{system: connector.SystemPayBC},
	)
	cfg := config.LedgerConfig{PADConfirmationPeriod: 72 * time.Hour}
	return NewServer(
		service.NewInvoiceService(store, repos, registry, cfg),
		service.NewAccountService(store, repos, registry, cfg),
	)
}

func TestCreateInvoiceUsesRequestIDFromContext(t *testing.T) {
	srv := newTestServer(nil)
	ctx := context.WithValue(context.Background(), requestIDKey{}, "grpc-req-1")

	account, err := srv.CreateAccount(ctx, &types.CreateAccountRequest{Name: "Acme", PaymentMethod: "drawdown", BcolAccountNumber: "B-9"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	resp, err := srv.CreateInvoice(ctx, &types.CreateInvoiceRequest{
		AccountId: account.Account.Id,
		LineItems: []*types.LineItemRequest{{Description: "Filing", FilingFeesCents: 1200}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Invoice.RequestId != "grpc-req-1" || resp.Invoice.Status != "PAID" {
		t.Fatalf("unexpected invoice: %+v", resp.Invoice)
	}
}

func TestCreateInvoiceValidationError(t *testing.T) {
	srv := newTestServer(nil)
	_, err := srv.CreateInvoice(context.Background(), &types.CreateInvoiceRequest{RequestId: "r"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	srv := newTestServer(nil)
	_, err := srv.GetInvoice(context.Background(), &types.GetInvoiceRequest{Id: 77})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestConnectorFailuresMapToUpstreamCodes(t *testing.T) {
	transient := newTestServer(&connector.TransientError{System: connector.SystemBCOL, Operation: connector.OpCharge, StatusCode: 503, Err: fmt.Errorf("down")})
	permanent := newTestServer(&connector.PermanentError{System: connector.SystemBCOL, Operation: connector.OpCharge, StatusCode: 400, Err: fmt.Errorf("no funds")})

	for name, tc := range map[string]struct {
		srv  *Server
		code codes.Code
	}{
		"transient": {transient, codes.Unavailable},
		"permanent": {permanent, codes.Aborted},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			account, err := tc.srv.CreateAccount(ctx, &types.CreateAccountRequest{Name: "Acme", PaymentMethod: "DRAWDOWN", BcolAccountNumber: "B-9"})
			if err != nil {
				t.Fatalf("create account: %v", err)
			}
			_, err = tc.srv.CreateInvoice(ctx, &types.CreateInvoiceRequest{
				RequestId: "r-1",
				AccountId: account.Account.Id,
				LineItems: []*types.LineItemRequest{{Description: "Filing", FilingFeesCents: 1200}},
			})
			if status.Code(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestServiceDescRoundTripsStructMessages(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoveryInterceptor(), RequestIDInterceptor(), LoggingInterceptor()))
	RegisterLedgerServiceServer(grpcSrv, newTestServer(nil))
	go func() { _ = grpcSrv.Serve(lis) }()
	defer grpcSrv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, _ := structpb.NewStruct(map[string]interface{}{"name": "Acme", "payment_method": "CC"})
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+serviceName+"/CreateAccount", in, out)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument without request id, got %v", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, requestIDHeader, "bufconn-1")
	if err := conn.Invoke(ctx, "/"+serviceName+"/CreateAccount", in, out); err != nil {
		t.Fatalf("create account: %v", err)
	}
	account := out.GetFields()["account"].GetStructValue()
	if account.GetFields()["payment_method"].GetStringValue() != "CC" {
		t.Fatalf("unexpected account: %v", out)
	}

	get, _ := structpb.NewStruct(map[string]interface{}{"id": account.GetFields()["id"].GetNumberValue()})
	if err := conn.Invoke(ctx, "/"+serviceName+"/GetAccount", get, out); err != nil {
		t.Fatalf("get account: %v", err)
	}
	if out.GetFields()["account"].GetStructValue().GetFields()["name"].GetStringValue() != "Acme" {
		t.Fatalf("unexpected get response: %v", out)
	}
}

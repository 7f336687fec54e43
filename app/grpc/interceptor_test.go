package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "grpc-abc"))
	if got := requestIDFromMetadata(ctx); got != "grpc-abc" {
		t.Fatalf("expected grpc-abc, got %q", got)
	}
}

func TestRequestIDInterceptorRequiresHeader(t *testing.T) {
	interceptor := RequestIDInterceptor()

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
	}
}

func TestRequestIDInterceptorUsesIncomingHeader(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "grpc-fixed"))
	interceptor := RequestIDInterceptor()

	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		if got := RequestIDFromContext(ctx); got != "grpc-fixed" {
			t.Fatalf("expected grpc-fixed, got %q", got)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecoveryInterceptorConvertsPanicToInternal(t *testing.T) {
	interceptor := RecoveryInterceptor()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/payledger.LedgerService/CreateInvoice"}, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}

func TestLoggingInterceptorPassThrough(t *testing.T) {
	interceptor := LoggingInterceptor()
	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/payledger.LedgerService/GetInvoice"}, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestRequestIDFromMetadataSkipsBlankValues(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "  ", requestIDHeader, " rq-2 "))
	if got := requestIDFromMetadata(ctx); got != "rq-2" {
		t.Fatalf("expected rq-2, got %q", got)
	}
}

func TestLoggingInterceptorTagsLedgerCallsWithRequestID(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.StandardLogger()
	prevOut, prevFormatter := logger.Out, logger.Formatter
	logger.SetOutput(&out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetFormatter(prevFormatter)
	})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "apply-77"))
	info := &grpc.UnaryServerInfo{FullMethod: "/payledger.LedgerService/ApplyReceipt"}
	logging := LoggingInterceptor()
	_, err := RequestIDInterceptor()(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return logging(ctx, req, info, func(context.Context, interface{}) (interface{}, error) {
			return nil, status.Error(codes.NotFound, "receipt not found")
		})
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	var entry map[string]interface{}
	line := strings.TrimSpace(out.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if entry["msg"] != "grpc_request" || entry["module"] != "grpc" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if entry["request_id"] != "apply-77" || entry["method"] != info.FullMethod || entry["code"] != "NotFound" {
		t.Fatalf("expected request id, method and code on the entry, got %v", entry)
	}
}

// Package grpc traces gRPC calls. Server interceptors continue the trace
// carried in incoming metadata; client interceptors write the current trace
// into outgoing metadata.
//
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(tracegrpc.UnaryServerInterceptor(tracing)),
//	    grpc.StreamInterceptor(tracegrpc.StreamServerInterceptor(tracing)),
//	)
package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kzs0/spanbridge/trace"
)

// TagStatusCode is the span tag holding a failed call's status code.
const TagStatusCode = "grpc.status_code"

// MD adapts gRPC metadata. Keys are lowercased by metadata itself.
type MD metadata.MD

var _ trace.Carrier = MD(nil)

func (m MD) Header(key string) string {
	if v := metadata.MD(m).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (m MD) SetHeader(key, value string) {
	metadata.MD(m).Set(key, value)
}

type request struct {
	MD
	kind   trace.Kind
	method string
}

func (r request) Kind() trace.Kind { return r.kind }
func (r request) Name() string     { return r.method }
func (r request) CacheScope() bool { return false }

func incoming(ctx context.Context) MD {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return MD(metadata.MD{})
	}
	return MD(md)
}

func finish(sp trace.Span, err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		sp.Error(err)
		sp.Tag(TagStatusCode, status.Code(err).String())
	}
	sp.Finish()
}

// finishPanicked finishes sp for a handler that panicked with v.
func finishPanicked(sp trace.Span, v any) {
	sp.Error(fmt.Errorf("panic: %v", v))
	sp.Tag(TagStatusCode, codes.Internal.String())
	sp.Finish()
}

// UnaryServerInterceptor starts a server span for every unary call.
func UnaryServerInterceptor(tracing trace.Tracing) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if !trace.IsAttached(ctx) {
			ctx = trace.Attach(ctx)
		}
		rc := tracing.NextServer(ctx, request{MD: incoming(ctx), kind: trace.KindServer, method: info.FullMethod})
		defer rc.Close()
		defer func() {
			if v := recover(); v != nil {
				finishPanicked(rc.Span(), v)
				panic(v)
			}
			finish(rc.Span(), err)
		}()

		return handler(ctx, req)
	}
}

// StreamServerInterceptor starts a server span for every stream. The span
// is current on the stream's context.
func StreamServerInterceptor(tracing trace.Tracing) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx := ss.Context()
		if !trace.IsAttached(ctx) {
			ctx = trace.Attach(ctx)
		}
		rc := tracing.NextServer(ctx, request{MD: incoming(ctx), kind: trace.KindServer, method: info.FullMethod})
		defer rc.Close()
		defer func() {
			if v := recover(); v != nil {
				finishPanicked(rc.Span(), v)
				panic(v)
			}
			finish(rc.Span(), err)
		}()

		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// outgoing starts a client span for method and returns ctx with the span's
// context written to a copy of the outgoing metadata.
func outgoing(ctx context.Context, tracing trace.Tracing, method string) (context.Context, trace.Span) {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}

	rc := tracing.NextServer(ctx, request{MD: MD(md), kind: trace.KindClient, method: method})
	rc.Close()
	for k, v := range rc.Headers() {
		md.Set(k, v)
	}
	return metadata.NewOutgoingContext(ctx, md), rc.Span()
}

// UnaryClientInterceptor starts a client span for every unary call.
func UnaryClientInterceptor(tracing trace.Tracing) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, sp := outgoing(ctx, tracing, method)
		err := invoker(ctx, method, req, reply, cc, opts...)
		finish(sp, err)
		return err
	}
}

// StreamClientInterceptor starts a client span for every stream. The span
// finishes when the stream ends.
func StreamClientInterceptor(tracing trace.Tracing) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, sp := outgoing(ctx, tracing, method)
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			finish(sp, err)
			return nil, err
		}
		return &wrappedClientStream{ClientStream: cs, span: sp}, nil
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

type wrappedClientStream struct {
	grpc.ClientStream
	span trace.Span
	once sync.Once
}

func (w *wrappedClientStream) RecvMsg(m any) error {
	err := w.ClientStream.RecvMsg(m)
	if err != nil {
		w.once.Do(func() { finish(w.span, err) })
	}
	return err
}

func (w *wrappedClientStream) CloseSend() error {
	err := w.ClientStream.CloseSend()
	if err != nil {
		w.once.Do(func() { finish(w.span, err) })
	}
	return err
}

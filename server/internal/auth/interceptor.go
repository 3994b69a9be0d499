package auth

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey is the only mode that enforces anything.
const ModeAPIKey = "apikey"

// enforced reports whether mode and key together require a check.
func enforced(mode, key string) bool {
	return mode == ModeAPIKey && key != ""
}

// match compares a presented key to the expected one in constant time.
func match(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that enforces API key
// authentication on every incoming call.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all calls are allowed (pass-through).
//   - Otherwise the interceptor reads the value of header from the incoming
//     gRPC metadata and compares it to key.
//   - A missing, empty, or incorrect key returns codes.Unauthenticated.
//
// header should be a lowercase string (gRPC metadata keys are case-insensitive
// but are normalised to lowercase by the gRPC library).
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := checkMetadata(ctx, mode, header, key); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// APIKeyStreamInterceptor is the streaming counterpart of APIKeyInterceptor.
// It guards long-lived calls such as the health Watch.
func APIKeyStreamInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := checkMetadata(ss.Context(), mode, header, key); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkMetadata(ctx context.Context, mode, header, key string) error {
	if !enforced(mode, key) {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(header)
	if len(vals) == 0 || !match(vals[0], key) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

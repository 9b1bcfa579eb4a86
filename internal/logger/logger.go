// Package logger configures zerolog and provides the connect request logging interceptor.
package logger

import (
	"context"
	"errors"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

// Setup returns the process logger. Dev mode logs at debug through a console writer.
func Setup(dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ connect.Interceptor = (*ConnectRequests)(nil)

// ConnectRequests logs one line per RPC with its procedure, duration and outcome.
type ConnectRequests struct {
	logger zerolog.Logger
}

func NewConnectRequests(logger zerolog.Logger) *ConnectRequests {
	return &ConnectRequests{logger: logger}
}

func (c *ConnectRequests) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return connect.UnaryFunc(func(
		ctx context.Context,
		req connect.AnyRequest,
	) (connect.AnyResponse, error) {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", req.Spec().Procedure).
			Str("protocol", req.Peer().Protocol).
			Str("addr", req.Peer().Addr).
			Logger().WithContext(ctx)

		resp, err := next(ctx, req)

		logResult(ctx, err, time.Since(started), "rpc call")

		return resp, err
	})
}

// WrapStreamingClient is a passthrough; the site only serves RPCs.
func (c *ConnectRequests) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (c *ConnectRequests) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return connect.StreamingHandlerFunc(func(
		ctx context.Context,
		conn connect.StreamingHandlerConn,
	) error {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", conn.Spec().Procedure).
			Str("protocol", conn.Peer().Protocol).
			Str("addr", conn.Peer().Addr).
			Logger().WithContext(ctx)

		err := next(ctx, conn)

		logResult(ctx, err, time.Since(started), "rpc stream")

		return err
	})
}

// logResult logs client faults (unauthenticated, invalid argument and so on) at warn and
// everything else that failed at error.
func logResult(ctx context.Context, err error, duration time.Duration, msg string) {
	if err == nil {
		zerolog.Ctx(ctx).Info().Dur("duration", duration).Msg(msg)
		return
	}

	code := connect.CodeOf(err)
	event := zerolog.Ctx(ctx).Error()
	if isClientCode(code) {
		event = zerolog.Ctx(ctx).Warn()
	}

	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		event = event.Str("error_message", connectErr.Message())
	}

	event.Err(err).Str("code", code.String()).Dur("duration", duration).Msg(msg)
}

func isClientCode(code connect.Code) bool {
	switch code {
	case connect.CodeInvalidArgument, connect.CodeNotFound, connect.CodeAlreadyExists,
		connect.CodePermissionDenied, connect.CodeUnauthenticated, connect.CodeFailedPrecondition,
		connect.CodeCanceled:
		return true
	default:
		return false
	}
}

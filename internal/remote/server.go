package remote

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region server
// RunSource is the read side of the store the server answers from.
type RunSource interface {
	GetRun(runID string) (store.Run, error)
	History(runID string) (history.Table, error)
	Coefficients(runID string) (map[string]float64, error)
}

// Server implements HistoryServer over a RunSource.
type Server struct {
	src RunSource
	log zerolog.Logger
}

// NewServer returns a server answering from src.
func NewServer(src RunSource, log zerolog.Logger) *Server {
	return &Server{src: src, log: log.With().Str("component", "history-service").Logger()}
}

// GetHistory returns a run with its scoring history.
func (s *Server) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requestRunID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	run, err := s.src.GetRun(runID)
	if err != nil {
		return nil, s.storeError(err, runID)
	}
	tbl, err := s.src.History(runID)
	if err != nil {
		return nil, s.storeError(err, runID)
	}
	return encodeRunHistory(RunHistory{Run: run, Table: tbl}), nil
}

// GetCoefficients returns a run's coefficient table.
func (s *Server) GetCoefficients(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requestRunID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := s.src.GetRun(runID); err != nil {
		return nil, s.storeError(err, runID)
	}
	coefs, err := s.src.Coefficients(runID)
	if err != nil {
		return nil, s.storeError(err, runID)
	}
	return encodeCoefficients(runID, coefs), nil
}

func (s *Server) storeError(err error, runID string) error {
	if errors.Is(err, store.ErrRunNotFound) {
		return status.Errorf(codes.NotFound, "run %s not found", runID)
	}
	s.log.Error().Err(err).Str("run_id", runID).Msg("store read failed")
	return status.Error(codes.Internal, "store read failed")
}

// #endregion server

// #region serve
// NewGRPCServer builds a grpc.Server with the history service registered
// and every call logged.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary(srv.log)))
	g := grpc.NewServer(opts...)
	RegisterHistoryServer(g, srv)
	return g
}

// Serve runs g on lis until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, g *grpc.Server, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Serve(lis)
	}()
	select {
	case <-ctx.Done():
		g.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func logUnary(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

// #endregion serve

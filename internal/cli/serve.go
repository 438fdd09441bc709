package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/remote"
)

// #region serve-cmd
func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored histories over gRPC",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, addr, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :50061)")
	return cmd
}

// serve blocks until ctx is done. ready, when non-nil, receives the bound
// address once the listener is up.
func (a *app) serve(ctx context.Context, addr string, ready chan<- net.Addr) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	g := remote.NewGRPCServer(remote.NewServer(st, a.log))

	a.log.Info().Str("addr", lis.Addr().String()).Str("service", remote.ServiceName).Msg("serving")
	if ready != nil {
		ready <- lis.Addr()
	}
	err = remote.Serve(ctx, g, lis)
	a.log.Info().Msg("server stopped")
	return err
}

// #endregion serve-cmd

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharding-experiment/blockpartitioner/internal/service"
)

const portF = "port"

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the partitioner over HTTP",
		Long:  `Starts an HTTP server that partitions JSON blocks posted to /partition.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, err := cmd.Flags().GetInt(portF)
			if err != nil {
				return err
			}
			return a.serve(cmd, port)
		},
	}
	cmd.Flags().Int(portF, 8080, "HTTP port")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, port int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := a.newPartitioner()
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Errorw("Partitioner: close failed", "err", err)
		}
	}()

	svc := service.NewService(p, a.cfg.ShardNum, a.cfg.PlanCacheBytes, a.logger.Named("service"))
	defer svc.Close()

	return svc.Run(ctx, port)
}

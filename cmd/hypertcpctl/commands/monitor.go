package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream device connect/disconnect events",
		Long:  "Connects to the broker as an admin and streams the device event feed until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := dial(serverAddr, adminToken)
			if err != nil {
				return err
			}
			defer c.close()

			go func() {
				<-ctx.Done()
				_ = c.close()
			}()

			for {
				ev, err := c.readEvent()
				if err != nil {
					if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, net.ErrClosed) {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}

				out, fmtErr := formatEvent(ev, outputFormat)
				if fmtErr != nil {
					return fmt.Errorf("format event: %w", fmtErr)
				}
				fmt.Println(out)
			}
		},
	}

	return cmd
}

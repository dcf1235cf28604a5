package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <target-device-id|broadcast> <json-payload>",
		Short: "Send a JSON message to a device, or broadcast to everyone",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			target, raw := args[0], args[1]

			var payload json.RawMessage
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}

			c, err := dial(serverAddr, adminToken)
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.send(target, payload); err != nil {
				return fmt.Errorf("send: %w", err)
			}

			fmt.Printf("sent to %s, acknowledged\n", target)
			return nil
		},
	}
}

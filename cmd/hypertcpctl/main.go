// hypertcpctl is an admin CLI for a HyperTCP broker: it logs in as an
// admin over raw TCP to send messages and stream the device event feed.
package main

import "github.com/hypertcpio/hypertcp/cmd/hypertcpctl/commands"

func main() {
	commands.Execute()
}

// Command rangingctl is a local experimentation CLI for the ranging session
// subsystem. It builds its own in-process session registry backed by
// simulated adapters; it is not a client of a running rangingd daemon.
package main

import "github.com/ranging-core/rangingd/cmd/rangingctl/commands"

func main() {
	commands.Execute()
}

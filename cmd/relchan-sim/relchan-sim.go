/*
relchan-sim runs a client and a server connection over a simulated lossy link
*/
package main

import "github.com/skycoin/relchan/cmd/relchan-sim/commands"

func main() {
	commands.Execute()
}

package main

import "github.com/ozkandogan90-glitch/algolab-bridge-server/cmd/bridge/cmd"

func main() {
	cmd.Execute()
}

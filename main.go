package main

import "neuralvault/graphcore/cmd"

func main() {
	cmd.Execute()
}

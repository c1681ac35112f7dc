package main

import "github.com/nfrund/livepresence/cmd/realtime-cli/cmd"

func main() {
	cmd.Execute()
}

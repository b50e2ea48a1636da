package main

import "github.com/ponyo877/collab/cli/cmd"

func main() {
	cmd.Execute()
}

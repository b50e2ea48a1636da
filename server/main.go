package main

import "github.com/ponyo877/collab/server/cmd"

func main() {
	cmd.Execute()
}

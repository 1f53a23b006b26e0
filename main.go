package main

import "github.com/agentic-research/vgrid/cmd"

func main() {
	cmd.Execute()
}

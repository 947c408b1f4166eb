package main

import "github.com/filipexyz/hookd/internal/cli/cmd"

func main() {
	cmd.Execute()
}

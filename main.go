package main

import "github.com/schovi/devcontrol/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/grovetools/remote-panel/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/runloom/runloom/cmd"

func main() {
	cmd.Execute()
}

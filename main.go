package main

import "github.com/lepinkainen/seshat/cmd"

// Indirection for testing.
var execute = cmd.Execute

func main() {
	execute()
}

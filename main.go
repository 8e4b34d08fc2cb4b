// Package main is the entry point for the lifecycle orchestrator.
package main

import "github.com/matthisholleville/lifecycle-orchestrator/cmd"

func main() {
	cmd.Execute()
}

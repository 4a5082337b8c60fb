// The main package for the crisis-collector executable.
package main

import (
	"github.com/crisiswatch/crisis-collector/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

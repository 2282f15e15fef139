// The main package for the clip-harvester executable.
package main

import (
	"github.com/JakeFAU/clip-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

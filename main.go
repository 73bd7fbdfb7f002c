// The main package for the wikigames executable.
package main

import (
	"github.com/JakeFAU/wikigames-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

// The main package for the metacrawler executable.
package main

import (
	"github.com/JakeFAU/video-metadata-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

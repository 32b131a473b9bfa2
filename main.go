// The main package for the releasewatch executable.
package main

import (
	"github.com/JakeFAU/release-watcher/cmd"
)

func main() {
	cmd.Execute()
}

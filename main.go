// The main package for the scrapqt executable.
package main

import (
	"github.com/MikoAlt/scrapqt/cmd"
)

func main() {
	cmd.Execute()
}

// ./main.go
package main

import (
	"github.com/kaidos-lab/notesift/cmd"
)

// main is the entry point for the notesift CLI.
func main() {
	cmd.Execute()
}

// Command reorder is the command-line front end of the reorder engine.
package main

import (
	"os"
)

func main() {
	env := defaultEnvironment()
	if err := newRootCommand(env).Execute(); err != nil {
		printError(env.errOut, err)
		os.Exit(1)
	}
}

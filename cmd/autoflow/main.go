package main

import (
	"fmt"
	"os"
)

const usage = `usage: autoflow [command]

commands:
  serve     run the engine (default)
  install   write ~/.autoflow/settings.json
  import    load workflows and profiles from a JSON bundle
  version   print the version`

func main() {
	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "serve":
		runServe()
	case "install":
		runInstall(args)
	case "import":
		runImport(args)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
}

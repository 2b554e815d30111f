// Package main is the gripperctl command itself.
package main

import (
	"log"
	"os"

	"github.com/robotiqur/robotiqur/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

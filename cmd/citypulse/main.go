package main

import (
	"os"

	"citypulse.fyi/citypulse/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}

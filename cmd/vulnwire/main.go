package main

import (
	"os"

	"github.com/vulnwire/vulnwire/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}

package main

import (
	_ "time/tzdata"

	"github.com/briangreenhill/roomwatch/internal/cli"
)

func main() {
	cli.Execute()
}

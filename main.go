package main

import (
	"os"

	"ninjago-build/ninjago"
)

func main() {
	os.Exit(ninjago.RealMain(os.Args))
}

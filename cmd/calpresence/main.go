package main

import (
	_ "time/tzdata"
)

// version will be set by the release build via -ldflags.
var version = "dev"

func main() {
	execute()
}

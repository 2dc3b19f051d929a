package main

import (
	"os"

	"github.com/solatis/abusefilter/cmd/abusefilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

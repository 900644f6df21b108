package main

import (
	"os"

	"github.com/WFHTask/AI-interview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

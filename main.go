package main

import (
	"os"

	"github.com/bzyfuzy/eegbids/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

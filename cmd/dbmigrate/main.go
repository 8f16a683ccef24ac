package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/thetolkienblack/home-lab-automation/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		code := 2
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
			err = exitErr.Err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

func main() {
	cmd, err := newOnboardCommand(viper.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

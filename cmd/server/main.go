package main

import (
	"fmt"
	"os"

	"github.com/Tyrowin/chatrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatrelay:", err)
		os.Exit(1)
	}
}

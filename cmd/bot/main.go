package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	// scheduler.timezone must resolve on hosts without a zoneinfo tree.
	_ "time/tzdata"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}

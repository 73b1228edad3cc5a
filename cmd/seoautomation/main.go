package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd(buildApp).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

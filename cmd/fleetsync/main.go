// fleetsync keeps a live view of a trading-bot fleet in sync with its backend.
//
// Usage:
//
//	fleetsync run --config configs/fleetsync.example.yaml
//	fleetsync stream --config configs/fleetsync.example.yaml --verbose
//	fleetsync version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command tillbook is an offline-first point-of-sale shift and till ledger.
//
// Operator actions (clock-in/out, till open/close) are durable locally and
// usable immediately; a background reconciler converges the local ledger
// with the remote backend whenever connectivity allows.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sdlog operates an SD card used as a circular byte log.
//
// Usage:
//
//	sdlog info                      identity, capacity and cursors
//	sdlog write [file|-]            append bytes and flush
//	sdlog read [--pages N]          stream pages from the read cursor
//	sdlog erase                     discard unread pages
//	sdlog status                    card status register
//
// The card and the position record store are selected in a YAML file
// (--config); without one a simulated card is used.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

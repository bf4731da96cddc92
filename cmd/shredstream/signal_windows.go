// +build windows

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
)

// installSignalHandler arranges for an interrupt to trigger a clean
// pipeline shutdown via cancel. Windows has no SIGTERM/SIGPIPE equivalent
// in the syscall package, so only os.Interrupt is wired up here.
func installSignalHandler(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)

	go func() {
		sig := <-ch
		log.Println("received signal:", sig)
		cancel()
	}()
}

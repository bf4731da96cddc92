// +build linux darwin freebsd

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// installSignalHandler arranges for SIGINT and SIGTERM to trigger a clean
// pipeline shutdown via cancel, in the teacher's sigHandler idiom.
func installSignalHandler(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		sig := <-ch
		log.Println("received signal:", sig)
		cancel()
	}()
}

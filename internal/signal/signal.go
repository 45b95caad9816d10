package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchInterrupt cancels the returned context on SIGINT or SIGTERM and exits
// the process if it is still running forceShutdownDelay later.
func WatchInterrupt(ctx context.Context, forceShutdownDelay time.Duration) context.Context {
	return watch(ctx, forceShutdownDelay, func() { os.Exit(1) }, syscall.SIGINT, syscall.SIGTERM)
}

func watch(ctx context.Context, delay time.Duration, exit func(), sigs ...os.Signal) context.Context {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-ch:
		case <-ctx.Done():
			signal.Stop(ch)
			return
		}

		log.Warnf("interrupt signal received, shutting down gracefully or exiting in %s", delay)
		cancel()

		timer := time.NewTimer(delay)
		<-timer.C

		log.Warnf("still running after %s, exit immediately", delay)
		exit()
	}()

	return ctx
}

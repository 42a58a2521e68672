package appctx

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/lcx/keel/plugin"
)

// ForwardSignals translates OS-level process signals into application
// lifecycle transitions and forwards them to this context's plugins:
// SIGTSTP pauses, SIGCONT resumes, SIGTERM and SIGINT detach. Forwarding runs
// until the returned stop function is called or ctx is done. Per-plugin
// notify failures are logged, not propagated; there is no caller to hand
// them to.
func (c *Context) ForwardSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGCONT)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-ch:
				state, ok := stateForSignal(sig)
				if !ok {
					continue
				}
				if err := c.plugins.NotifyAppLifecycle(ctx, state); err != nil {
					c.logger.Error("lifecycle forward failed",
						zap.String("signal", sig.String()),
						zap.String("state", string(state)),
						zap.Error(err))
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

func stateForSignal(sig os.Signal) (plugin.AppLifecycleState, bool) {
	switch sig {
	case syscall.SIGTSTP:
		return plugin.StatePaused, true
	case syscall.SIGCONT:
		return plugin.StateResumed, true
	case syscall.SIGTERM, syscall.SIGINT:
		return plugin.StateDetached, true
	default:
		return "", false
	}
}

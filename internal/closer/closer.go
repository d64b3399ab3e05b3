// Package closer runs shutdown functions once, on demand or on a signal.
package closer

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"telegram-assistant-bots/internal/logging"
)

// Closer collects close functions and runs them concurrently exactly once.
type Closer struct {
	mu        sync.Mutex
	once      sync.Once
	done      chan struct{}
	functions []func() error
	err       error
}

// New returns a Closer that also closes itself when one of sig arrives.
func New(sig ...os.Signal) *Closer {
	c := &Closer{done: make(chan struct{})}
	if len(sig) > 0 {
		go func() {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, sig...)
			defer signal.Stop(ch)
			select {
			case s := <-ch:
				logging.Log.Info().Str("event", "shutdown").Str("signal", s.String()).Msg("signal received")
				if err := c.Close(); err != nil {
					logging.Log.Error().Err(err).Msg("close")
				}
			case <-c.done:
			}
		}()
	}
	return c
}

// Add registers functions to run on Close.
func (c *Closer) Add(f ...func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions = append(c.functions, f...)
}

// Done is closed once every function has returned.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until Close has finished.
func (c *Closer) Wait() {
	<-c.done
}

// Close runs the registered functions. Later calls return the first result.
func (c *Closer) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		functions := c.functions
		c.mu.Unlock()

		errs := make([]error, len(functions))
		var wg sync.WaitGroup
		wg.Add(len(functions))
		for i, f := range functions {
			go func() {
				defer wg.Done()
				errs[i] = f()
			}()
		}
		wg.Wait()
		c.err = errors.Join(errs...)
		close(c.done)
	})
	return c.err
}

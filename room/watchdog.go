package room

import (
	"context"
	"log"
	"time"

	"escrowd/contract"
)

// Watchdog sweeps for rooms with no committed transition inside the
// inactivity window and force-resolves them. Each room is resolved in its own
// locked transaction, so a sweep racing a live intent loses cleanly.
type Watchdog struct {
	rooms           *Service
	window          time.Duration
	interval        time.Duration
	defaultDecision contract.Decision
	sign            SignFunc
	publish         func(phrase string, res Result)
	logger          *log.Logger
}

func NewWatchdog(rooms *Service, window, interval time.Duration, defaultDecision contract.Decision, sign SignFunc, publish func(string, Result), logger *log.Logger) *Watchdog {
	if logger == nil {
		logger = log.Default()
	}
	if publish == nil {
		publish = func(string, Result) {}
	}
	return &Watchdog{
		rooms:           rooms,
		window:          window,
		interval:        interval,
		defaultDecision: defaultDecision,
		sign:            sign,
		publish:         publish,
		logger:          logger,
	}
}

// Run sweeps on the configured interval until the context ends.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Printf("watchdog: sweep: %v", err)
			}
		}
	}
}

// Sweep resolves every room currently past the inactivity window. A failure
// on one room does not stop the rest.
func (w *Watchdog) Sweep(ctx context.Context) error {
	phrases, err := w.rooms.InactiveRooms(ctx, w.window)
	if err != nil {
		return err
	}
	for _, phrase := range phrases {
		res, err := w.rooms.ResolveTimeout(ctx, phrase, w.defaultDecision, w.sign)
		if err != nil {
			w.logger.Printf("watchdog: resolve room %q: %v", phrase, err)
			continue
		}
		if res.StateChanged {
			w.logger.Printf("watchdog: resolved inactive room %q", phrase)
			w.publish(phrase, res)
		}
	}
	return nil
}

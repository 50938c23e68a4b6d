package main

import "context"

// fanOutNotifier relays every signal received on in to each of outs,
// non-blockingly. The admin engine signals a single config-change
// notifier after every successful mutation; §4.7 calls for that one
// channel to "fan out" to both the announcement publisher (republish
// the catalog) and the overlay client (refresh subscriptions on a
// relay-set change) — a plain chan struct{} can only be received by
// one goroutine at a time, so this is the broadcaster the spec's
// wording implies.
func fanOutNotifier(ctx context.Context, in <-chan struct{}, outs ...chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in:
			for _, out := range outs {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}
}

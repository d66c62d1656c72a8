package worker

import (
	"context"
	"time"

	"TicketMint/internal/chain"
)

// RunWS listens to the ledger's finality feed and hands every notification
// to HandleFinality. Endpoints rotate after WSFailoverThreshold consecutive
// connection failures. The ticker loop still covers anything missed while
// disconnected.
func (r *Reconciler) RunWS(ctx context.Context) {
	if len(r.WSEndpoints) == 0 {
		r.log().Info("ws disabled: no endpoints")
		return
	}
	threshold := r.WSFailoverThreshold
	if threshold <= 0 {
		threshold = 3
	}

	idx, failures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		endpoint := r.WSEndpoints[idx]
		log := r.log().WithField("endpoint", endpoint)
		if err := r.consumeWS(ctx, endpoint); err != nil && ctx.Err() == nil {
			failures++
			log.WithError(err).WithField("failures", failures).Warn("ws connection lost")
			if failures >= threshold && len(r.WSEndpoints) > 1 {
				idx = (idx + 1) % len(r.WSEndpoints)
				failures = 0
				r.log().WithField("endpoint", r.WSEndpoints[idx]).Info("ws failover")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// consumeWS runs one websocket session until it fails.
func (r *Reconciler) consumeWS(ctx context.Context, endpoint string) error {
	client := chain.NewWSClient(endpoint)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	if err := client.Subscribe(ctx, chain.FinalityQuery); err != nil {
		return err
	}
	r.log().WithField("endpoint", endpoint).Info("ws subscribed")

	for {
		msg, err := client.Read(ctx)
		if err != nil {
			return err
		}
		info, ok, err := chain.ParseFinality(msg)
		if err != nil {
			r.log().WithError(err).Warn("ws parse failed")
			continue
		}
		if !ok {
			continue
		}
		if err := r.HandleFinality(ctx, info); err != nil {
			r.log().WithError(err).WithField("tx", info.Hash).Warn("ws finality handling failed")
		}
	}
}

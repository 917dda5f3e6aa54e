package webhooks

import (
	"railscan/ledger"
)

// LedgerNotifier translates committed ledger changes into webhook events.
// It plugs into the engine as a post-commit observer.
type LedgerNotifier struct {
	dispatcher *Dispatcher
}

func NewLedgerNotifier(dispatcher *Dispatcher) *LedgerNotifier {
	return &LedgerNotifier{dispatcher: dispatcher}
}

// BlockCommitted emits a notification for every rail that reached its
// finalized state in the committed block. Finalized is terminal, so a rail
// is never touched again and each notification fires once.
func (n *LedgerNotifier) BlockCommitted(block uint64, touched []any) error {
	if n == nil || n.dispatcher == nil {
		return nil
	}
	for _, entity := range touched {
		rail, ok := entity.(*ledger.Rail)
		if !ok || rail.State != ledger.RailFinalized {
			continue
		}
		payload := RailFinalizedPayload{
			RailID:      rail.ID.Dec(),
			Payer:       rail.Payer.Hex(),
			Payee:       rail.Payee.Hex(),
			BlockNumber: block,
		}
		if err := n.dispatcher.EnqueueRailFinalized(payload); err != nil {
			return err
		}
	}
	return nil
}

package mediatedtransfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// TargetStateTransition drives the receiving machine. It operates on the
// single channel the locked transfer arrived on. A nil state installs a
// fresh machine; a nil returned state retires it.
func TargetStateTransition(state *TargetState, stateChange transfer.StateChange,
	channelState *transfer.ChannelState, prng *transfer.PRNG,
	blockNumber int64) (*TargetState, []transfer.Event) {

	if state == nil {
		if init, ok := stateChange.(*ActionInitTarget); ok {
			return handleInitTarget(init, prng)
		}
		return nil, nil
	}

	switch sc := stateChange.(type) {
	case *transfer.Block:
		if sc.BlockNumber > state.FromTransfer.Lock.Expiration {
			// The payer can no longer be forced to pay; give up on
			// the lock silently, the initiator failed first.
			return nil, nil
		}

	case *ReceiveSecretReveal:
		return handleTargetSecretReveal(state, sc, prng)

	case *transfer.ReceiveUnlock:
		if sc.SecretHash != state.FromTransfer.Lock.SecretHash {
			return state, nil
		}
		return nil, []transfer.Event{
			&transfer.EventTransferReceivedSuccess{
				PaymentIdentifier: state.FromTransfer.PaymentIdentifier,
				Amount:            new(big.Int).Set(state.FromTransfer.Amount),
				Initiator:         state.FromTransfer.Initiator,
			},
		}
	}

	return state, nil
}

func handleInitTarget(init *ActionInitTarget, prng *transfer.PRNG) (*TargetState, []transfer.Event) {
	lockedTransfer := init.Transfer

	state := &TargetState{
		FromTransfer: lockedTransfer,
		FromAddress:  lockedTransfer.BalanceProof.Sender,
	}

	return state, []transfer.Event{
		&SendSecretRequest{
			SendMessage: transfer.SendMessage{
				Recipient:         lockedTransfer.Initiator,
				QueueName:         transfer.GlobalQueueName,
				MessageIdentifier: prng.NextMessageID(),
			},
			PaymentIdentifier: lockedTransfer.PaymentIdentifier,
			Amount:            new(big.Int).Set(lockedTransfer.Amount),
			SecretHash:        lockedTransfer.Lock.SecretHash,
		},
	}
}

// handleTargetSecretReveal answers the initiator's reveal by proving to the
// payer partner that the secret is known, which makes the payer send the
// unlock.
func handleTargetSecretReveal(state *TargetState, stateChange *ReceiveSecretReveal,
	prng *transfer.PRNG) (*TargetState, []transfer.Event) {

	if stateChange.SecretHash != state.FromTransfer.Lock.SecretHash {
		return state, nil
	}

	if state.Secret != (common.Hash{}) {
		return state, nil
	}

	state.Secret = stateChange.Secret
	return state, []transfer.Event{
		&SendRevealSecret{
			SendMessage: transfer.SendMessage{
				Recipient:         state.FromAddress,
				QueueName:         transfer.GlobalQueueName,
				MessageIdentifier: prng.NextMessageID(),
			},
			Secret:     stateChange.Secret,
			SecretHash: stateChange.SecretHash,
			Token:      state.FromTransfer.Token,
		},
	}
}

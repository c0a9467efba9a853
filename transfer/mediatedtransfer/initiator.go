package mediatedtransfer

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// defaultLockDuration is the number of blocks a fresh lock stays claimable.
const defaultLockDuration = 100

// InitiatorStateTransition drives the payment-originating machine. A nil
// state installs a fresh machine; a nil returned state retires it.
func InitiatorStateTransition(state *InitiatorState, stateChange transfer.StateChange,
	channels map[common.Address]*transfer.ChannelState, prng *transfer.PRNG,
	blockNumber int64) (*InitiatorState, []transfer.Event) {

	if state == nil {
		if init, ok := stateChange.(*ActionInitInitiator); ok {
			return startTransfer(init, channels, prng, blockNumber)
		}
		return nil, nil
	}

	switch sc := stateChange.(type) {
	case *transfer.Block:
		if sc.BlockNumber > state.Transfer.Lock.Expiration {
			return nil, []transfer.Event{
				&EventUnlockFailed{
					PaymentIdentifier: state.Description.PaymentIdentifier,
					SecretHash:        state.Description.SecretHash,
					Reason:            "lock expired",
				},
			}
		}

	case *ReceiveSecretRequest:
		return handleSecretRequest(state, sc, prng)

	case *ReceiveSecretReveal:
		return handleInitiatorSecretReveal(state, sc, prng)

	case *ReceiveTransferRefundCancelRoute, *ReceiveTransferRefund:
		// Retrying over another route needs fee and routing policy that
		// lives above this machine, so a refunded payment fails here.
		return nil, []transfer.Event{
			&EventUnlockFailed{
				PaymentIdentifier: state.Description.PaymentIdentifier,
				SecretHash:        state.Description.SecretHash,
				Reason:            "transfer refunded",
			},
		}
	}

	return state, nil
}

// startTransfer picks the payment channel and emits the locked transfer.
// Channels are tried in identifier order so a replay picks the same one.
func startTransfer(init *ActionInitInitiator, channels map[common.Address]*transfer.ChannelState,
	prng *transfer.PRNG, blockNumber int64) (*InitiatorState, []transfer.Event) {

	description := init.Transfer
	channelState := chooseChannel(channels, description.Amount)
	if channelState == nil {
		return nil, []transfer.Event{
			&EventUnlockFailed{
				PaymentIdentifier: description.PaymentIdentifier,
				SecretHash:        description.SecretHash,
				Reason:            "no usable route",
			},
		}
	}

	lockedTransfer := &LockedTransferState{
		PaymentIdentifier: description.PaymentIdentifier,
		Token:             channelState.TokenAddress,
		Amount:            new(big.Int).Set(description.Amount),
		Initiator:         description.Initiator,
		Target:            description.Target,
		Lock: &LockState{
			Amount:     new(big.Int).Set(description.Amount),
			Expiration: blockNumber + defaultLockDuration,
			SecretHash: description.SecretHash,
		},
		BalanceProof: &transfer.BalanceProof{
			ChannelAddress:         channelState.Identifier,
			TokenNetworkIdentifier: channelState.TokenNetworkIdentifier,
			Sender:                 channelState.OurState.Address,
		},
	}

	state := &InitiatorState{
		Description:       description,
		ChannelIdentifier: channelState.Identifier,
		Transfer:          lockedTransfer,
	}

	return state, []transfer.Event{
		&SendLockedTransfer{
			SendMessage: transfer.SendMessage{
				Recipient:         channelState.PartnerState.Address,
				QueueName:         channelState.Identifier.Hex(),
				MessageIdentifier: prng.NextMessageID(),
			},
			Transfer: lockedTransfer,
		},
	}
}

func handleSecretRequest(state *InitiatorState, stateChange *ReceiveSecretRequest,
	prng *transfer.PRNG) (*InitiatorState, []transfer.Event) {

	valid := stateChange.SecretHash == state.Description.SecretHash &&
		stateChange.Sender == state.Description.Target &&
		stateChange.Amount.Cmp(state.Description.Amount) == 0

	if !valid || state.RevealedToTarget {
		return state, nil
	}

	state.RevealedToTarget = true
	return state, []transfer.Event{
		&SendRevealSecret{
			SendMessage: transfer.SendMessage{
				Recipient:         state.Description.Target,
				QueueName:         transfer.GlobalQueueName,
				MessageIdentifier: prng.NextMessageID(),
			},
			Secret:     state.Description.Secret,
			SecretHash: state.Description.SecretHash,
			Token:      state.Transfer.Token,
		},
	}
}

// handleInitiatorSecretReveal finishes the payment: the payee proved it
// knows the secret, so the closing balance proof goes out and the machine
// retires.
func handleInitiatorSecretReveal(state *InitiatorState, stateChange *ReceiveSecretReveal,
	prng *transfer.PRNG) (*InitiatorState, []transfer.Event) {

	if stateChange.Secret != state.Description.Secret {
		return state, nil
	}

	events := []transfer.Event{
		&SendBalanceProof{
			SendMessage: transfer.SendMessage{
				Recipient:         stateChange.Sender,
				QueueName:         state.ChannelIdentifier.Hex(),
				MessageIdentifier: prng.NextMessageID(),
			},
			PaymentIdentifier: state.Description.PaymentIdentifier,
			TokenAddress:      state.Transfer.Token,
			Secret:            state.Description.Secret,
			SecretHash:        state.Description.SecretHash,
			ChannelAddress:    state.ChannelIdentifier,
		},
		&EventUnlockSuccess{
			PaymentIdentifier: state.Description.PaymentIdentifier,
			SecretHash:        state.Description.SecretHash,
		},
	}

	return nil, events
}

func chooseChannel(channels map[common.Address]*transfer.ChannelState, amount *big.Int) *transfer.ChannelState {
	identifiers := make([]common.Address, 0, len(channels))
	for id := range channels {
		identifiers = append(identifiers, id)
	}
	sort.Slice(identifiers, func(i, j int) bool {
		return bytes.Compare(identifiers[i][:], identifiers[j][:]) < 0
	})

	for _, id := range identifiers {
		channelState := channels[id]
		if channelState.Status() != transfer.ChannelStateOpened {
			continue
		}
		if channelState.OurState.Balance(channelState.PartnerState).Cmp(amount) >= 0 {
			return channelState
		}
	}
	return nil
}

package mediatedtransfer

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// MediatorStateTransition drives the relaying machine. A nil state installs
// a fresh machine; a nil returned state retires it.
func MediatorStateTransition(state *MediatorState, stateChange transfer.StateChange,
	channels map[common.Address]*transfer.ChannelState, prng *transfer.PRNG,
	blockNumber int64) (*MediatorState, []transfer.Event) {

	if state == nil {
		if init, ok := stateChange.(*ActionInitMediator); ok {
			return forwardTransfer(init, channels, prng)
		}
		return nil, nil
	}

	switch sc := stateChange.(type) {
	case *transfer.Block:
		if sc.BlockNumber > state.FromTransfer.Lock.Expiration {
			return nil, []transfer.Event{
				&EventUnlockFailed{
					PaymentIdentifier: state.FromTransfer.PaymentIdentifier,
					SecretHash:        state.FromTransfer.Lock.SecretHash,
					Reason:            "lock expired",
				},
			}
		}

	case *ReceiveSecretReveal:
		return handleMediatorSecretReveal(state, sc, prng)

	case *transfer.ContractReceiveSecretReveal:
		// A secret registered on chain is as good as one revealed off
		// chain; relay it toward the payer so our own lock gets paid.
		return handleMediatorSecretReveal(state, &ReceiveSecretReveal{
			Secret:     sc.Secret,
			SecretHash: sc.SecretHash,
			Sender:     state.PayerAddress,
		}, prng)

	case *transfer.ReceiveUnlock:
		if sc.SecretHash != state.FromTransfer.Lock.SecretHash {
			return state, nil
		}
		// The payer settled our lock; pay the payee hop in turn and
		// finish the relay.
		return nil, payeeUnlockEvents(state, sc.Secret, prng)
	}

	return state, nil
}

// forwardTransfer installs the machine and, when a channel toward a payee
// exists, relays the lock over it. Without a usable payee channel the lock
// is held as-is; the payer side resolves it by unlock or expiry.
func forwardTransfer(init *ActionInitMediator, channels map[common.Address]*transfer.ChannelState,
	prng *transfer.PRNG) (*MediatorState, []transfer.Event) {

	fromTransfer := init.FromTransfer
	state := &MediatorState{
		FromTransfer: fromTransfer,
		PayerAddress: fromTransfer.BalanceProof.Sender,
	}

	payeeChannel := choosePayeeChannel(channels, state.PayerAddress, fromTransfer)
	if payeeChannel == nil {
		return state, nil
	}

	state.PayeeAddress = payeeChannel.PartnerState.Address
	state.PayeeChannelIdentifier = payeeChannel.Identifier

	// The forwarded lock expires earlier than the received one, leaving
	// the reveal window this hop needs to claim its own lock on chain.
	forwarded := &LockedTransferState{
		PaymentIdentifier: fromTransfer.PaymentIdentifier,
		Token:             fromTransfer.Token,
		Amount:            new(big.Int).Set(fromTransfer.Amount),
		Initiator:         fromTransfer.Initiator,
		Target:            fromTransfer.Target,
		Lock: &LockState{
			Amount:     new(big.Int).Set(fromTransfer.Lock.Amount),
			Expiration: fromTransfer.Lock.Expiration - payeeChannel.RevealTimeout,
			SecretHash: fromTransfer.Lock.SecretHash,
		},
		BalanceProof: &transfer.BalanceProof{
			ChannelAddress:         payeeChannel.Identifier,
			TokenNetworkIdentifier: payeeChannel.TokenNetworkIdentifier,
			Sender:                 payeeChannel.OurState.Address,
		},
	}

	return state, []transfer.Event{
		&SendLockedTransfer{
			SendMessage: transfer.SendMessage{
				Recipient:         state.PayeeAddress,
				QueueName:         payeeChannel.Identifier.Hex(),
				MessageIdentifier: prng.NextMessageID(),
			},
			Transfer: forwarded,
		},
	}
}

// handleMediatorSecretReveal records the secret and passes it on toward the
// payer, which makes the payer send the unlock that ends this machine.
func handleMediatorSecretReveal(state *MediatorState, stateChange *ReceiveSecretReveal,
	prng *transfer.PRNG) (*MediatorState, []transfer.Event) {

	if stateChange.SecretHash != state.FromTransfer.Lock.SecretHash {
		return state, nil
	}

	if state.Secret != (common.Hash{}) {
		// Already relayed; a duplicate reveal must not spend another
		// message identifier.
		return state, nil
	}

	state.Secret = stateChange.Secret
	return state, []transfer.Event{
		&SendRevealSecret{
			SendMessage: transfer.SendMessage{
				Recipient:         state.PayerAddress,
				QueueName:         transfer.GlobalQueueName,
				MessageIdentifier: prng.NextMessageID(),
			},
			Secret:     stateChange.Secret,
			SecretHash: stateChange.SecretHash,
			Token:      state.FromTransfer.Token,
		},
	}
}

// payeeUnlockEvents settles the forwarded lock off chain. When no payee
// channel was chosen at install time there is nothing downstream to pay.
func payeeUnlockEvents(state *MediatorState, secret common.Hash,
	prng *transfer.PRNG) []transfer.Event {

	var events []transfer.Event

	if state.PayeeAddress != (common.Address{}) {
		events = append(events, &SendBalanceProof{
			SendMessage: transfer.SendMessage{
				Recipient:         state.PayeeAddress,
				QueueName:         state.PayeeChannelIdentifier.Hex(),
				MessageIdentifier: prng.NextMessageID(),
			},
			PaymentIdentifier: state.FromTransfer.PaymentIdentifier,
			TokenAddress:      state.FromTransfer.Token,
			Secret:            secret,
			SecretHash:        state.FromTransfer.Lock.SecretHash,
			ChannelAddress:    state.PayeeChannelIdentifier,
		})
	}

	return append(events, &EventUnlockSuccess{
		PaymentIdentifier: state.FromTransfer.PaymentIdentifier,
		SecretHash:        state.FromTransfer.Lock.SecretHash,
	})
}

// choosePayeeChannel picks the channel to relay over: open, funded, not the
// payer's own channel, preferring one straight to the target. Identifier
// order keeps the choice replayable.
func choosePayeeChannel(channels map[common.Address]*transfer.ChannelState,
	payerAddress common.Address, fromTransfer *LockedTransferState) *transfer.ChannelState {

	identifiers := make([]common.Address, 0, len(channels))
	for id := range channels {
		identifiers = append(identifiers, id)
	}
	sort.Slice(identifiers, func(i, j int) bool {
		return bytes.Compare(identifiers[i][:], identifiers[j][:]) < 0
	})

	var fallback *transfer.ChannelState
	for _, id := range identifiers {
		channelState := channels[id]
		if channelState.Status() != transfer.ChannelStateOpened {
			continue
		}
		partner := channelState.PartnerState.Address
		if partner == payerAddress {
			continue
		}
		if channelState.OurState.Balance(channelState.PartnerState).Cmp(fromTransfer.Amount) < 0 {
			continue
		}

		if partner == fromTransfer.Target {
			return channelState
		}
		if fallback == nil {
			fallback = channelState
		}
	}

	return fallback
}

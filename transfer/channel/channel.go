// Package channel holds the state machine of a single netting channel. The
// machine consumes a state change together with the current block height,
// and returns the new channel state plus the events to emit. A nil new state
// means the channel retired and must be dropped by the token network owning
// it. Direct transfers are built by CreateDirectTransfer, which draws the
// message identifier from the node's deterministic generator.
package channel

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

var (
	// ErrChannelNotOpened is returned when a transfer is attempted on a
	// channel that is closing or settled.
	ErrChannelNotOpened = errors.New("channel is not opened")

	// ErrInsufficientBalance is returned when a transfer exceeds the
	// distributable amount of the sending end.
	ErrInsufficientBalance = errors.New("insufficient distributable balance")
)

// StateTransition applies a single state change to one channel.
func StateTransition(channelState *transfer.ChannelState, stateChange transfer.StateChange,
	blockNumber int64) (*transfer.ChannelState, []transfer.Event) {

	var events []transfer.Event

	switch sc := stateChange.(type) {
	case *transfer.Block:
		// The settlement window elapses exactly once; emitting on the
		// boundary block keeps replays from duplicating the call.
		if channelState.Status() == transfer.ChannelStateClosed &&
			sc.BlockNumber == channelState.ClosedBlockNumber+channelState.SettleTimeout {

			events = append(events, &transfer.ContractSendChannelSettle{
				ChannelIdentifier:      channelState.Identifier,
				TokenNetworkIdentifier: channelState.TokenNetworkIdentifier,
			})
		}

	case *transfer.ActionChannelClose:
		events = append(events, EventsForClose(channelState, blockNumber)...)

	case *transfer.ContractReceiveChannelClosed:
		if channelState.ClosedBlockNumber == 0 {
			channelState.ClosedBlockNumber = sc.ClosedBlockNumber
		}

	case *transfer.ContractReceiveChannelNewBalance:
		applyNewBalance(channelState, sc.ParticipantAddress, sc.ContractBalance)

	case *transfer.ContractReceiveChannelSettled:
		channelState.SettledBlockNumber = sc.SettledBlockNumber
		return nil, events

	case *transfer.ContractReceiveChannelBatchUnlock:
		// The locks were resolved on chain; there is nothing left to
		// track off chain for a settled channel.
		if channelState.Status() == transfer.ChannelStateSettled {
			return nil, events
		}
	}

	return channelState, events
}

// EventsForClose asks the chain layer to close the channel, handing over the
// partner's latest balance proof. Requesting a close on an already closing
// channel is a no-op.
func EventsForClose(channelState *transfer.ChannelState, blockNumber int64) []transfer.Event {
	if channelState.Status() != transfer.ChannelStateOpened {
		return nil
	}

	return []transfer.Event{
		&transfer.ContractSendChannelClose{
			ChannelIdentifier:      channelState.Identifier,
			TokenNetworkIdentifier: channelState.TokenNetworkIdentifier,
			TokenAddress:           channelState.TokenAddress,
			BalanceProof:           partnerBalanceProof(channelState),
		},
	}
}

// CreateDirectTransfer debits our end and builds the message carrying the
// payment to the partner. The message identifier is drawn from the node
// generator so replays reproduce it.
func CreateDirectTransfer(channelState *transfer.ChannelState, prng *transfer.PRNG,
	paymentIdentifier transfer.PaymentID, amount *big.Int) (*transfer.SendDirectTransfer, error) {

	if channelState.Status() != transfer.ChannelStateOpened {
		return nil, ErrChannelNotOpened
	}

	distributable := channelState.OurState.Balance(channelState.PartnerState)
	if amount.Cmp(distributable) > 0 {
		return nil, ErrInsufficientBalance
	}

	our := channelState.OurState
	our.TransferredAmount = new(big.Int).Add(our.TransferredAmount, amount)

	return &transfer.SendDirectTransfer{
		SendMessage: transfer.SendMessage{
			Recipient:         channelState.PartnerState.Address,
			QueueName:         channelState.Identifier.Hex(),
			MessageIdentifier: prng.NextMessageID(),
		},
		PaymentIdentifier: paymentIdentifier,
		TokenAddress:      channelState.TokenAddress,
		BalanceProof: &transfer.BalanceProof{
			TransferredAmount:      new(big.Int).Set(our.TransferredAmount),
			ChannelAddress:         channelState.Identifier,
			TokenNetworkIdentifier: channelState.TokenNetworkIdentifier,
			Sender:                 our.Address,
		},
	}, nil
}

// RegisterReceivedDirectTransfer credits the partner's transfer into the
// channel and reports the amount that was new to us. A stale or replayed
// balance proof yields zero.
func RegisterReceivedDirectTransfer(channelState *transfer.ChannelState,
	balanceProof *transfer.BalanceProof) *big.Int {

	partner := channelState.PartnerState
	received := new(big.Int).Sub(balanceProof.TransferredAmount, partner.TransferredAmount)
	if received.Sign() <= 0 {
		return new(big.Int)
	}

	partner.TransferredAmount = new(big.Int).Set(balanceProof.TransferredAmount)
	return received
}

func applyNewBalance(channelState *transfer.ChannelState, participant common.Address, balance *big.Int) {
	if channelState.OurState.Address == participant {
		channelState.OurState.ContractBalance = new(big.Int).Set(balance)
	} else if channelState.PartnerState.Address == participant {
		channelState.PartnerState.ContractBalance = new(big.Int).Set(balance)
	}
}

func partnerBalanceProof(channelState *transfer.ChannelState) *transfer.BalanceProof {
	partner := channelState.PartnerState
	if partner.TransferredAmount.Sign() == 0 {
		return nil
	}
	return &transfer.BalanceProof{
		TransferredAmount:      new(big.Int).Set(partner.TransferredAmount),
		ChannelAddress:         channelState.Identifier,
		TokenNetworkIdentifier: channelState.TokenNetworkIdentifier,
		Sender:                 partner.Address,
	}
}

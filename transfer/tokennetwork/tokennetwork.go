// Package tokennetwork maintains the set of channels denominated in one
// token. It keeps two indexes over the same channels, by identifier and by
// partner address, and delegates channel-scoped state changes to the channel
// machine. The machine returns a nil new state when its last channel
// retires, which makes the node reducer drop the token network from the
// payment network registry.
package tokennetwork

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
	"github.com/meshpay/meshd/transfer/channel"
)

// StateTransition applies a single state change to the token network.
func StateTransition(tokenNetwork *transfer.TokenNetworkState, stateChange transfer.StateChange,
	prng *transfer.PRNG, blockNumber int64) (*transfer.TokenNetworkState, []transfer.Event) {

	switch sc := stateChange.(type) {
	case *transfer.ContractReceiveChannelNew:
		return handleChannelNew(tokenNetwork, sc)

	case *transfer.ContractReceiveRouteNew:
		return handleRouteNew(tokenNetwork, sc)

	case *transfer.ActionChannelClose:
		return SubdispatchToChannelByID(tokenNetwork, stateChange, sc.ChannelIdentifier, blockNumber)

	case *transfer.ContractReceiveChannelClosed:
		return SubdispatchToChannelByID(tokenNetwork, stateChange, sc.ChannelIdentifier, blockNumber)

	case *transfer.ContractReceiveChannelNewBalance:
		return SubdispatchToChannelByID(tokenNetwork, stateChange, sc.ChannelIdentifier, blockNumber)

	case *transfer.ContractReceiveChannelSettled:
		return SubdispatchToChannelByID(tokenNetwork, stateChange, sc.ChannelIdentifier, blockNumber)

	case *transfer.ActionTransferDirect:
		return handleActionTransferDirect(tokenNetwork, sc, prng)

	case *transfer.ReceiveTransferDirect:
		return handleReceiveTransferDirect(tokenNetwork, sc)
	}

	return tokenNetwork, nil
}

// SubdispatchToChannelByID routes a channel-scoped state change to the
// channel with the given identifier. A reference to an unknown channel is a
// late event for a retired channel and is absorbed. When the channel machine
// terminates, the channel is removed from both indexes atomically, and the
// token network itself retires with its last channel.
func SubdispatchToChannelByID(tokenNetwork *transfer.TokenNetworkState, stateChange transfer.StateChange,
	channelIdentifier common.Address, blockNumber int64) (*transfer.TokenNetworkState, []transfer.Event) {

	channelState := tokenNetwork.ChannelIdentifiersToChannels[channelIdentifier]
	if channelState == nil {
		return tokenNetwork, nil
	}

	newChannelState, events := channel.StateTransition(channelState, stateChange, blockNumber)
	if newChannelState == nil {
		delete(tokenNetwork.ChannelIdentifiersToChannels, channelIdentifier)
		delete(tokenNetwork.PartnerAddressesToChannels, channelState.PartnerState.Address)

		if len(tokenNetwork.ChannelIdentifiersToChannels) == 0 {
			return nil, events
		}
	}

	return tokenNetwork, events
}

func handleChannelNew(tokenNetwork *transfer.TokenNetworkState,
	stateChange *transfer.ContractReceiveChannelNew) (*transfer.TokenNetworkState, []transfer.Event) {

	channelState := stateChange.ChannelState
	if _, ok := tokenNetwork.ChannelIdentifiersToChannels[channelState.Identifier]; !ok {
		tokenNetwork.ChannelIdentifiersToChannels[channelState.Identifier] = channelState
		tokenNetwork.PartnerAddressesToChannels[channelState.PartnerState.Address] = channelState
	}

	return tokenNetwork, nil
}

func handleRouteNew(tokenNetwork *transfer.TokenNetworkState,
	stateChange *transfer.ContractReceiveRouteNew) (*transfer.TokenNetworkState, []transfer.Event) {

	for _, edge := range tokenNetwork.NetworkGraph {
		if edge.ChannelIdentifier == stateChange.ChannelIdentifier {
			return tokenNetwork, nil
		}
	}

	tokenNetwork.NetworkGraph = append(tokenNetwork.NetworkGraph, transfer.RouteEdge{
		ChannelIdentifier: stateChange.ChannelIdentifier,
		Participant1:      stateChange.Participant1,
		Participant2:      stateChange.Participant2,
	})

	return tokenNetwork, nil
}

func handleActionTransferDirect(tokenNetwork *transfer.TokenNetworkState,
	stateChange *transfer.ActionTransferDirect, prng *transfer.PRNG) (*transfer.TokenNetworkState, []transfer.Event) {

	channelState := tokenNetwork.PartnerAddressesToChannels[stateChange.ReceiverAddress]
	if channelState == nil {
		return tokenNetwork, []transfer.Event{
			&transfer.EventTransferSentFailed{
				PaymentIdentifier: stateChange.PaymentIdentifier,
				Reason:            "unknown partner channel",
			},
		}
	}

	directTransfer, err := channel.CreateDirectTransfer(
		channelState, prng, stateChange.PaymentIdentifier, stateChange.Amount,
	)
	if err != nil {
		return tokenNetwork, []transfer.Event{
			&transfer.EventTransferSentFailed{
				PaymentIdentifier: stateChange.PaymentIdentifier,
				Reason:            err.Error(),
			},
		}
	}

	return tokenNetwork, []transfer.Event{directTransfer}
}

func handleReceiveTransferDirect(tokenNetwork *transfer.TokenNetworkState,
	stateChange *transfer.ReceiveTransferDirect) (*transfer.TokenNetworkState, []transfer.Event) {

	balanceProof := stateChange.BalanceProof
	if balanceProof == nil {
		return tokenNetwork, nil
	}

	channelState := tokenNetwork.ChannelIdentifiersToChannels[balanceProof.ChannelAddress]
	if channelState == nil {
		return tokenNetwork, nil
	}

	received := channel.RegisterReceivedDirectTransfer(channelState, balanceProof)
	if received.Sign() == 0 {
		return tokenNetwork, nil
	}

	return tokenNetwork, []transfer.Event{
		&transfer.EventTransferReceivedSuccess{
			PaymentIdentifier: stateChange.PaymentIdentifier,
			Amount:            new(big.Int).Set(received),
			Initiator:         balanceProof.Sender,
		},
	}
}

package transfer

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// The view helpers are read-only lookups over the state tree. They return
// nil when the requested entry does not exist; callers treat that as a
// late-arriving reference to a retired object.

// GetNetworks returns the payment network and the token network registered
// under the given token address, either of which may be nil.
func GetNetworks(nodeState *NodeState, paymentNetworkIdentifier, tokenAddress common.Address) (*PaymentNetworkState, *TokenNetworkState) {
	paymentNetwork := nodeState.IdentifiersToPaymentNetworks[paymentNetworkIdentifier]
	if paymentNetwork == nil {
		return nil, nil
	}
	return paymentNetwork, paymentNetwork.TokenAddressesToTokenNetworks[tokenAddress]
}

// GetTokenNetworkByIdentifier scans all payment networks for the token
// network with the given identifier.
func GetTokenNetworkByIdentifier(nodeState *NodeState, tokenNetworkIdentifier common.Address) *TokenNetworkState {
	for _, paymentNetwork := range nodeState.IdentifiersToPaymentNetworks {
		if t := paymentNetwork.TokenIdentifiersToTokenNetworks[tokenNetworkIdentifier]; t != nil {
			return t
		}
	}
	return nil
}

// SearchPaymentNetworkByTokenNetworkID returns the payment network holding
// the given token network.
func SearchPaymentNetworkByTokenNetworkID(nodeState *NodeState, tokenNetworkIdentifier common.Address) *PaymentNetworkState {
	for _, paymentNetwork := range nodeState.IdentifiersToPaymentNetworks {
		if paymentNetwork.TokenIdentifiersToTokenNetworks[tokenNetworkIdentifier] != nil {
			return paymentNetwork
		}
	}
	return nil
}

// GetChannelStateByTokenNetworkIdentifier resolves a channel inside a token
// network, nil if either has been retired.
func GetChannelStateByTokenNetworkIdentifier(nodeState *NodeState, tokenNetworkIdentifier, channelIdentifier common.Address) *ChannelState {
	tokenNetwork := GetTokenNetworkByIdentifier(nodeState, tokenNetworkIdentifier)
	if tokenNetwork == nil {
		return nil
	}
	return tokenNetwork.ChannelIdentifiersToChannels[channelIdentifier]
}

// The reducer's fan-outs must walk maps in a stable order so that replays
// emit byte-identical event sequences. Keys are sorted bytewise.

func sortAddresses(keys []common.Address) []common.Address {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// SortedPaymentNetworkIDs returns the payment network identifiers in stable
// order.
func SortedPaymentNetworkIDs(nodeState *NodeState) []common.Address {
	keys := make([]common.Address, 0, len(nodeState.IdentifiersToPaymentNetworks))
	for id := range nodeState.IdentifiersToPaymentNetworks {
		keys = append(keys, id)
	}
	return sortAddresses(keys)
}

// SortedTokenAddresses returns the token addresses of a payment network in
// stable order.
func SortedTokenAddresses(paymentNetwork *PaymentNetworkState) []common.Address {
	keys := make([]common.Address, 0, len(paymentNetwork.TokenAddressesToTokenNetworks))
	for addr := range paymentNetwork.TokenAddressesToTokenNetworks {
		keys = append(keys, addr)
	}
	return sortAddresses(keys)
}

// SortedChannelIdentifiers returns the channel identifiers of a token
// network in stable order.
func SortedChannelIdentifiers(tokenNetwork *TokenNetworkState) []common.Address {
	keys := make([]common.Address, 0, len(tokenNetwork.ChannelIdentifiersToChannels))
	for id := range tokenNetwork.ChannelIdentifiersToChannels {
		keys = append(keys, id)
	}
	return sortAddresses(keys)
}

// SortedPartnerAddresses returns the partner addresses of a token network in
// stable order.
func SortedPartnerAddresses(tokenNetwork *TokenNetworkState) []common.Address {
	keys := make([]common.Address, 0, len(tokenNetwork.PartnerAddressesToChannels))
	for addr := range tokenNetwork.PartnerAddressesToChannels {
		keys = append(keys, addr)
	}
	return sortAddresses(keys)
}

// SortedSecretHashes returns the secret hashes of the payment mapping in
// stable order.
func SortedSecretHashes(mapping PaymentMappingState) []common.Hash {
	hashes := make([]common.Hash, 0, len(mapping.SecretHashesToTask))
	for h := range mapping.SecretHashesToTask {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	return hashes
}

// SortedQueueIDs returns the queue identifiers in stable order: recipient
// first, queue name second.
func SortedQueueIDs(nodeState *NodeState) []QueueID {
	ids := make([]QueueID, 0, len(nodeState.QueueIDsToQueues))
	for id := range nodeState.QueueIDsToQueues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if c := bytes.Compare(ids[i].Recipient[:], ids[j].Recipient[:]); c != 0 {
			return c < 0
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}

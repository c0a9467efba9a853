package transfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkState is the reachability the transport last reported for a peer.
type NetworkState string

const (
	NetworkReachable   NetworkState = "reachable"
	NetworkUnreachable NetworkState = "unreachable"
	NetworkUnknown     NetworkState = "unknown"
)

// ChannelStatus describes where a channel is in its on-chain lifecycle.
type ChannelStatus string

const (
	ChannelStateOpened  ChannelStatus = "opened"
	ChannelStateClosed  ChannelStatus = "closed"
	ChannelStateSettled ChannelStatus = "settled"
)

// NodeState is the root of the state tree. It is created once by
// ActionInitNode and owned exclusively by the reducer during a transition;
// callers must not alias its interior containers across transitions.
type NodeState struct {
	BlockNumber int64

	// PseudoRandomGenerator is advanced by the sub-machines; its state
	// words are persisted with the rest of the tree.
	PseudoRandomGenerator *PRNG

	IdentifiersToPaymentNetworks map[common.Address]*PaymentNetworkState
	NodeAddressesToNetworkStates map[common.Address]NetworkState
	PaymentMapping               PaymentMappingState
	QueueIDsToQueues             map[QueueID][]SendMessageEvent
}

// NewNodeState builds an empty tree at the given height.
func NewNodeState(prng *PRNG, blockNumber int64) *NodeState {
	return &NodeState{
		BlockNumber:                  blockNumber,
		PseudoRandomGenerator:        prng,
		IdentifiersToPaymentNetworks: make(map[common.Address]*PaymentNetworkState),
		NodeAddressesToNetworkStates: make(map[common.Address]NetworkState),
		PaymentMapping: PaymentMappingState{
			SecretHashesToTask: make(map[common.Hash]Task),
		},
		QueueIDsToQueues: make(map[QueueID][]SendMessageEvent),
	}
}

// PaymentMappingState indexes the in-flight payments by secret hash. A task
// is installed by the init state change that starts the payment and deleted
// when its machine terminates.
type PaymentMappingState struct {
	SecretHashesToTask map[common.Hash]Task
}

// Task is one in-flight payment. Exactly three variants exist; the node
// reducer matches on the concrete type.
type Task interface {
	TokenNetworkID() common.Address
}

// PaymentNetworkState is a registry of token networks, indexed twice: by
// token-network identifier and by token address. The two maps always hold
// the same value set.
type PaymentNetworkState struct {
	Address common.Address

	TokenIdentifiersToTokenNetworks map[common.Address]*TokenNetworkState
	TokenAddressesToTokenNetworks   map[common.Address]*TokenNetworkState
}

// NewPaymentNetworkState builds the registry with an initial set of token
// networks.
func NewPaymentNetworkState(address common.Address, tokenNetworks []*TokenNetworkState) *PaymentNetworkState {
	p := &PaymentNetworkState{
		Address:                         address,
		TokenIdentifiersToTokenNetworks: make(map[common.Address]*TokenNetworkState),
		TokenAddressesToTokenNetworks:   make(map[common.Address]*TokenNetworkState),
	}
	for _, t := range tokenNetworks {
		p.TokenIdentifiersToTokenNetworks[t.Address] = t
		p.TokenAddressesToTokenNetworks[t.TokenAddress] = t
	}
	return p
}

// TokenNetworkState is the graph of channels denominated in one token.
type TokenNetworkState struct {
	Address      common.Address
	TokenAddress common.Address

	ChannelIdentifiersToChannels map[common.Address]*ChannelState
	PartnerAddressesToChannels   map[common.Address]*ChannelState

	// NetworkGraph holds the channel edges announced on chain, used for
	// route selection by the layers above.
	NetworkGraph []RouteEdge
}

// RouteEdge is one announced channel between two participants.
type RouteEdge struct {
	ChannelIdentifier common.Address
	Participant1      common.Address
	Participant2      common.Address
}

// NewTokenNetworkState builds an empty token network.
func NewTokenNetworkState(address, tokenAddress common.Address) *TokenNetworkState {
	return &TokenNetworkState{
		Address:                      address,
		TokenAddress:                 tokenAddress,
		ChannelIdentifiersToChannels: make(map[common.Address]*ChannelState),
		PartnerAddressesToChannels:   make(map[common.Address]*ChannelState),
	}
}

// ChannelEndState is the view of one participant inside a channel.
type ChannelEndState struct {
	Address common.Address

	// ContractBalance is the total deposited on chain by this end.
	ContractBalance *big.Int

	// TransferredAmount is the monotonically increasing total this end
	// has paid to the other.
	TransferredAmount *big.Int
}

// NewChannelEndState builds an end with the given deposit.
func NewChannelEndState(address common.Address, balance *big.Int) *ChannelEndState {
	return &ChannelEndState{
		Address:           address,
		ContractBalance:   new(big.Int).Set(balance),
		TransferredAmount: new(big.Int),
	}
}

// Balance is the spendable amount of this end given the counterparty's view.
func (e *ChannelEndState) Balance(partner *ChannelEndState) *big.Int {
	b := new(big.Int).Add(e.ContractBalance, partner.TransferredAmount)
	return b.Sub(b, e.TransferredAmount)
}

// ChannelState is a bilateral off-chain balance backed by an on-chain
// deposit. The identifier is the netting-channel contract address.
type ChannelState struct {
	Identifier             common.Address
	TokenNetworkIdentifier common.Address
	TokenAddress           common.Address

	RevealTimeout int64
	SettleTimeout int64

	OurState     *ChannelEndState
	PartnerState *ChannelEndState

	OpenBlockNumber    int64
	ClosedBlockNumber  int64
	SettledBlockNumber int64
}

// Status derives the lifecycle phase from the recorded block heights.
func (c *ChannelState) Status() ChannelStatus {
	switch {
	case c.SettledBlockNumber != 0:
		return ChannelStateSettled
	case c.ClosedBlockNumber != 0:
		return ChannelStateClosed
	default:
		return ChannelStateOpened
	}
}

// BalanceProof is the off-chain attestation accompanying an envelope
// message. Only the fields the node reducer reads are modeled; signature
// verification happens in the layers below.
type BalanceProof struct {
	Nonce                  uint64
	TransferredAmount      *big.Int
	LocksRoot              common.Hash
	ChannelAddress         common.Address
	TokenNetworkIdentifier common.Address
	Sender                 common.Address
}

func init() {
	gob.Register(&NodeState{})
	gob.Register(&PaymentNetworkState{})
	gob.Register(&TokenNetworkState{})
	gob.Register(&ChannelState{})
}

package transfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block is dispatched once per observed chain height. Callers feed heights
// in non-decreasing order.
type Block struct {
	BlockNumber int64
}

// ActionInitNode creates the node state. It must be the first state change
// ever applied.
type ActionInitNode struct {
	PseudoRandomGenerator *PRNG
	BlockNumber           int64
}

// ActionNewTokenNetwork registers a token network the user asked to join
// before the contract event confirming it arrives.
type ActionNewTokenNetwork struct {
	PaymentNetworkIdentifier common.Address
	TokenNetwork             *TokenNetworkState
}

// ActionChannelClose is the user requesting a channel close.
type ActionChannelClose struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
}

// ActionChangeNodeNetworkState records a reachability change for a peer.
type ActionChangeNodeNetworkState struct {
	NodeAddress  common.Address
	NetworkState NetworkState
}

// ActionTransferDirect is the user paying a partner over a shared channel,
// without hash locks.
type ActionTransferDirect struct {
	TokenNetworkIdentifier common.Address
	ReceiverAddress        common.Address
	PaymentIdentifier      PaymentID
	Amount                 *big.Int
}

// ActionLeaveAllNetworks asks for a graceful close of every channel the
// node participates in.
type ActionLeaveAllNetworks struct{}

// ContractReceiveNewPaymentNetwork is the watcher observing a payment
// network registry deployment.
type ContractReceiveNewPaymentNetwork struct {
	PaymentNetwork *PaymentNetworkState
}

// ContractReceiveNewTokenNetwork is the watcher observing a token being
// registered with a payment network.
type ContractReceiveNewTokenNetwork struct {
	PaymentNetworkIdentifier common.Address
	TokenNetwork             *TokenNetworkState
}

// ContractReceiveChannelNew is the watcher observing a channel creation.
type ContractReceiveChannelNew struct {
	TokenNetworkIdentifier common.Address
	ChannelState           *ChannelState
}

// ContractReceiveChannelClosed is the watcher observing an on-chain close.
type ContractReceiveChannelClosed struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	ClosingAddress         common.Address
	ClosedBlockNumber      int64
}

// ContractReceiveChannelNewBalance is the watcher observing a deposit.
type ContractReceiveChannelNewBalance struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	ParticipantAddress     common.Address
	ContractBalance        *big.Int
}

// ContractReceiveChannelSettled is the watcher observing an on-chain
// settlement. The channel retires when this is applied.
type ContractReceiveChannelSettled struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	SettledBlockNumber     int64
}

// ContractReceiveChannelBatchUnlock is the watcher observing a batch unlock
// of hash locks after settlement.
type ContractReceiveChannelBatchUnlock struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	Participant            common.Address
	UnlockedAmount         *big.Int
	ReturnedTokens         *big.Int
}

// ContractReceiveRouteNew is the watcher observing a channel between two
// other participants, extending the known network graph.
type ContractReceiveRouteNew struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	Participant1           common.Address
	Participant2           common.Address
}

// ContractReceiveSecretReveal is the watcher observing a secret registered
// on chain.
type ContractReceiveSecretReveal struct {
	SecretRegistryAddress common.Address
	SecretHash            common.Hash
	Secret                common.Hash
}

// ReceiveTransferDirect is a partner paying us over a shared channel.
type ReceiveTransferDirect struct {
	TokenNetworkIdentifier common.Address
	MessageIdentifier      MessageID
	PaymentIdentifier      PaymentID
	BalanceProof           *BalanceProof
}

// ReceiveDelivered acknowledges a message from a global queue.
type ReceiveDelivered struct {
	MessageIdentifier MessageID
}

// ReceiveProcessed acknowledges that the recipient fully processed a
// message, whichever queue carried it.
type ReceiveProcessed struct {
	MessageIdentifier MessageID
}

// ReceiveUnlock is the payer handing over the balance proof that pays a
// hash-locked transfer once its secret is known.
type ReceiveUnlock struct {
	MessageIdentifier MessageID
	SecretHash        common.Hash
	Secret            common.Hash
	BalanceProof      *BalanceProof
}

func init() {
	gob.Register(&Block{})
	gob.Register(&ActionInitNode{})
	gob.Register(&ActionNewTokenNetwork{})
	gob.Register(&ActionChannelClose{})
	gob.Register(&ActionChangeNodeNetworkState{})
	gob.Register(&ActionTransferDirect{})
	gob.Register(&ActionLeaveAllNetworks{})
	gob.Register(&ContractReceiveNewPaymentNetwork{})
	gob.Register(&ContractReceiveNewTokenNetwork{})
	gob.Register(&ContractReceiveChannelNew{})
	gob.Register(&ContractReceiveChannelClosed{})
	gob.Register(&ContractReceiveChannelNewBalance{})
	gob.Register(&ContractReceiveChannelSettled{})
	gob.Register(&ContractReceiveChannelBatchUnlock{})
	gob.Register(&ContractReceiveRouteNew{})
	gob.Register(&ContractReceiveSecretReveal{})
	gob.Register(&ReceiveTransferDirect{})
	gob.Register(&ReceiveDelivered{})
	gob.Register(&ReceiveProcessed{})
	gob.Register(&ReceiveUnlock{})
}

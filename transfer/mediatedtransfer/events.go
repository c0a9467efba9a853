package mediatedtransfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// SendLockedTransfer carries a new hash-locked transfer to the next hop. It
// travels on the channel queue.
type SendLockedTransfer struct {
	transfer.SendMessage

	Transfer *LockedTransferState
}

// SendSecretRequest is the target asking the initiator to reveal. Secret
// handling messages are not bound to a channel and travel on the global
// queue.
type SendSecretRequest struct {
	transfer.SendMessage

	PaymentIdentifier transfer.PaymentID
	Amount            *big.Int
	SecretHash        common.Hash
}

// SendRevealSecret hands a learned secret to a peer, on the global queue.
type SendRevealSecret struct {
	transfer.SendMessage

	Secret     common.Hash
	SecretHash common.Hash
	Token      common.Address
}

// SendBalanceProof is the unlock message finishing a hash-locked transfer
// off chain, on the channel queue.
type SendBalanceProof struct {
	transfer.SendMessage

	PaymentIdentifier transfer.PaymentID
	TokenAddress      common.Address
	Secret            common.Hash
	SecretHash        common.Hash
	ChannelAddress    common.Address
}

// EventUnlockSuccess notifies that a lock this node owed was paid out.
type EventUnlockSuccess struct {
	PaymentIdentifier transfer.PaymentID
	SecretHash        common.Hash
}

// EventUnlockFailed notifies that a pending lock cannot be paid anymore.
type EventUnlockFailed struct {
	PaymentIdentifier transfer.PaymentID
	SecretHash        common.Hash
	Reason            string
}

func init() {
	gob.Register(&SendLockedTransfer{})
	gob.Register(&SendSecretRequest{})
	gob.Register(&SendRevealSecret{})
	gob.Register(&SendBalanceProof{})
	gob.Register(&EventUnlockSuccess{})
	gob.Register(&EventUnlockFailed{})
}

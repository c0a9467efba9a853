package mediatedtransfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// ActionInitInitiator starts a mediated transfer. The description must
// contain everything needed to make progress; the machine never requests
// more data.
type ActionInitInitiator struct {
	Transfer *TransferDescription
}

// ActionInitMediator installs the relaying machine for a locked transfer
// received from the payer side.
type ActionInitMediator struct {
	FromTransfer *LockedTransferState
}

// ActionInitTarget installs the receiving machine for a locked transfer
// addressed to this node.
type ActionInitTarget struct {
	Transfer *LockedTransferState
}

// ReceiveSecretRequest is the target asking the initiator for the secret.
type ReceiveSecretRequest struct {
	MessageIdentifier transfer.MessageID
	PaymentIdentifier transfer.PaymentID
	Amount            *big.Int
	SecretHash        common.Hash
	Sender            common.Address
}

// ReceiveSecretReveal is a RevealSecret message received from a peer.
type ReceiveSecretReveal struct {
	MessageIdentifier transfer.MessageID
	Secret            common.Hash
	SecretHash        common.Hash
	Sender            common.Address
}

// ReceiveTransferRefund is the payee handing the lock back because it could
// not forward the payment.
type ReceiveTransferRefund struct {
	Transfer *LockedTransferState
	Sender   common.Address
}

// ReceiveTransferRefundCancelRoute is a refund that additionally cancels the
// route the refunded transfer used, so a retry must pick another one.
type ReceiveTransferRefundCancelRoute struct {
	Transfer *LockedTransferState
	Sender   common.Address
	Secret   common.Hash
}

func init() {
	gob.Register(&ActionInitInitiator{})
	gob.Register(&ActionInitMediator{})
	gob.Register(&ActionInitTarget{})
	gob.Register(&ReceiveSecretRequest{})
	gob.Register(&ReceiveSecretReveal{})
	gob.Register(&ReceiveTransferRefund{})
	gob.Register(&ReceiveTransferRefundCancelRoute{})
}

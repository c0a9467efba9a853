package mediatedtransfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
)

// LockState is one pending hash lock.
type LockState struct {
	Amount     *big.Int
	Expiration int64
	SecretHash common.Hash
}

// LockedTransferState is a mediated transfer as seen in a locked-transfer
// message: the payment details plus the lock and the balance proof that
// carried it.
type LockedTransferState struct {
	PaymentIdentifier transfer.PaymentID
	Token             common.Address
	Amount            *big.Int
	Initiator         common.Address
	Target            common.Address
	Lock              *LockState
	BalanceProof      *transfer.BalanceProof
}

// TransferDescription is what the user hands the initiator machine: the
// payment to perform and the secret chosen for it.
type TransferDescription struct {
	TokenNetworkIdentifier common.Address
	PaymentIdentifier      transfer.PaymentID
	Amount                 *big.Int
	Initiator              common.Address
	Target                 common.Address
	Secret                 common.Hash
	SecretHash             common.Hash
}

// InitiatorState is the payment-originating machine's state.
type InitiatorState struct {
	Description       *TransferDescription
	ChannelIdentifier common.Address
	Transfer          *LockedTransferState

	// RevealedToTarget is set once the secret went out in response to a
	// secret request, so duplicate requests are not answered twice.
	RevealedToTarget bool
}

// MediatorState is the relaying machine's state. The payee fields stay zero
// when no usable channel toward a payee existed at install time.
type MediatorState struct {
	FromTransfer *LockedTransferState
	PayerAddress common.Address

	PayeeAddress           common.Address
	PayeeChannelIdentifier common.Address

	Secret common.Hash
}

// TargetState is the receiving machine's state.
type TargetState struct {
	FromTransfer *LockedTransferState
	FromAddress  common.Address
	Secret       common.Hash
}

func init() {
	gob.Register(&InitiatorState{})
	gob.Register(&MediatorState{})
	gob.Register(&TargetState{})
}

package node

import (
	"encoding/gob"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
	"github.com/meshpay/meshd/transfer/mediatedtransfer"
)

// The payment mapping stores exactly three task variants, one per payment
// role. Two payments can never share a secret hash across variants; the
// router treats such a collision as an invalid state change.

// InitiatorTask tracks a payment this node originates.
type InitiatorTask struct {
	TokenNetworkIdentifier common.Address
	ManagerState           *mediatedtransfer.InitiatorState
}

// TokenNetworkID returns the token network the payment runs in.
func (t *InitiatorTask) TokenNetworkID() common.Address {
	return t.TokenNetworkIdentifier
}

// MediatorTask tracks a payment this node relays.
type MediatorTask struct {
	TokenNetworkIdentifier common.Address
	MediatorState          *mediatedtransfer.MediatorState
}

// TokenNetworkID returns the token network the payment runs in.
func (t *MediatorTask) TokenNetworkID() common.Address {
	return t.TokenNetworkIdentifier
}

// TargetTask tracks a payment this node receives. Unlike the other two it is
// bound to the single channel the locked transfer arrived on.
type TargetTask struct {
	TokenNetworkIdentifier common.Address
	ChannelIdentifier      common.Address
	TargetState            *mediatedtransfer.TargetState
}

// TokenNetworkID returns the token network the payment runs in.
func (t *TargetTask) TokenNetworkID() common.Address {
	return t.TokenNetworkIdentifier
}

var (
	_ transfer.Task = (*InitiatorTask)(nil)
	_ transfer.Task = (*MediatorTask)(nil)
	_ transfer.Task = (*TargetTask)(nil)
)

func init() {
	gob.Register(&InitiatorTask{})
	gob.Register(&MediatorTask{})
	gob.Register(&TargetTask{})
}

package transfer

import (
	"encoding/gob"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SendDirectTransfer instructs the transport to deliver a direct payment to
// the channel partner. Acknowledged with Processed.
type SendDirectTransfer struct {
	SendMessage

	PaymentIdentifier PaymentID
	TokenAddress      common.Address
	BalanceProof      *BalanceProof
}

// EventTransferSentSuccess notifies the layers above that a direct transfer
// was processed by the recipient. Produced only by the Processed handler.
type EventTransferSentSuccess struct {
	PaymentIdentifier PaymentID
	Amount            *big.Int
	Target            common.Address
}

// EventTransferSentFailed notifies the layers above that a requested direct
// transfer could not be sent.
type EventTransferSentFailed struct {
	PaymentIdentifier PaymentID
	Reason            string
}

// EventTransferReceivedSuccess notifies the layers above of an incoming
// payment that is final.
type EventTransferReceivedSuccess struct {
	PaymentIdentifier PaymentID
	Amount            *big.Int
	Initiator         common.Address
}

// ContractSendChannelClose instructs the chain layer to call close on the
// netting channel with the partner's latest balance proof.
type ContractSendChannelClose struct {
	ChannelIdentifier      common.Address
	TokenNetworkIdentifier common.Address
	TokenAddress           common.Address
	BalanceProof           *BalanceProof
}

// ContractSendChannelSettle instructs the chain layer to settle a closed
// channel once its settlement window elapsed.
type ContractSendChannelSettle struct {
	ChannelIdentifier      common.Address
	TokenNetworkIdentifier common.Address
}

func init() {
	gob.Register(&SendDirectTransfer{})
	gob.Register(&EventTransferSentSuccess{})
	gob.Register(&EventTransferSentFailed{})
	gob.Register(&EventTransferReceivedSuccess{})
	gob.Register(&ContractSendChannelClose{})
	gob.Register(&ContractSendChannelSettle{})
}

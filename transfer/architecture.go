package transfer

import (
	"github.com/ethereum/go-ethereum/common"
)

// StateChange is an immutable record describing an external event to be
// applied to the node: a user action, an observed on-chain contract event,
// or a received network message. Concrete state changes are plain structs;
// the node reducer dispatches on their dynamic type.
type StateChange interface{}

// Event is a side effect produced by a state transition: a message to send,
// a contract call to perform, or a notification for the layers above. The
// reducer never executes events, it only emits them in deterministic order.
type Event interface{}

// QueueID identifies one ordered queue of outbound messages awaiting
// delivery acknowledgment.
type QueueID struct {
	Recipient common.Address
	Name      string
}

// GlobalQueueName is the queue whose messages Delivered acknowledges.
// Processed acknowledges messages on every queue, this one included.
const GlobalQueueName = "global"

// MessageID is the random identifier binding a sent message to its
// Delivered/Processed acknowledgment.
type MessageID uint64

// PaymentID identifies one payment as chosen by the initiating user.
type PaymentID uint64

// SendMessageEvent is implemented by every event that must be handed to the
// transport. The node reducer appends each one to the queue named by its
// QueueIdentifier, in emission order.
type SendMessageEvent interface {
	Event
	QueueIdentifier() QueueID
	MessageID() MessageID
}

// SendMessage carries the fields shared by all queued messages. Concrete
// send events embed it.
type SendMessage struct {
	Recipient         common.Address
	QueueName         string
	MessageIdentifier MessageID
}

// QueueIdentifier returns the queue this message belongs to.
func (m *SendMessage) QueueIdentifier() QueueID {
	return QueueID{Recipient: m.Recipient, Name: m.QueueName}
}

// MessageID returns the message identifier used for acknowledgments.
func (m *SendMessage) MessageID() MessageID {
	return m.MessageIdentifier
}

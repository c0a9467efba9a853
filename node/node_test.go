package node

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
	"github.com/meshpay/meshd/transfer/mediatedtransfer"
)

var (
	paymentNetworkAddr = common.HexToAddress("0x0101010101010101010101010101010101010101")
	tokenNetworkAddr   = common.HexToAddress("0x0202020202020202020202020202020202020202")
	tokenAddr          = common.HexToAddress("0x0303030303030303030303030303030303030303")
	channelAddr        = common.HexToAddress("0x0404040404040404040404040404040404040404")
	ourAddr            = common.HexToAddress("0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a")
	partnerAddr        = common.HexToAddress("0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	targetAddr         = common.HexToAddress("0x0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c")

	testSecret     = common.HexToHash("0x01")
	testSecretHash = common.HexToHash("0xff02")
)

func newTestNodeState(t *testing.T) *transfer.NodeState {
	t.Helper()

	iteration := StateTransition(nil, &transfer.ActionInitNode{
		PseudoRandomGenerator: transfer.NewPRNG(42),
		BlockNumber:           100,
	})
	if iteration.NewState == nil {
		t.Fatalf("init did not produce a node state")
	}
	if len(iteration.Events) != 0 {
		t.Fatalf("init should not emit events, got %v", iteration.Events)
	}

	return iteration.NewState
}

func newTestChannelState() *transfer.ChannelState {
	return &transfer.ChannelState{
		Identifier:             channelAddr,
		TokenNetworkIdentifier: tokenNetworkAddr,
		TokenAddress:           tokenAddr,
		RevealTimeout:          10,
		SettleTimeout:          50,
		OurState:               transfer.NewChannelEndState(ourAddr, big.NewInt(1000)),
		PartnerState:           transfer.NewChannelEndState(partnerAddr, big.NewInt(1000)),
		OpenBlockNumber:        90,
	}
}

// registerTokenNetwork drives the node state through the contract events
// that register the payment network, the token network and one open
// channel.
func registerTokenNetwork(t *testing.T, nodeState *transfer.NodeState) {
	t.Helper()

	StateTransition(nodeState, &transfer.ContractReceiveNewPaymentNetwork{
		PaymentNetwork: transfer.NewPaymentNetworkState(paymentNetworkAddr, nil),
	})
	StateTransition(nodeState, &transfer.ContractReceiveNewTokenNetwork{
		PaymentNetworkIdentifier: paymentNetworkAddr,
		TokenNetwork:             transfer.NewTokenNetworkState(tokenNetworkAddr, tokenAddr),
	})
	StateTransition(nodeState, &transfer.ContractReceiveChannelNew{
		TokenNetworkIdentifier: tokenNetworkAddr,
		ChannelState:           newTestChannelState(),
	})
}

func newTestLockedTransfer() *mediatedtransfer.LockedTransferState {
	return &mediatedtransfer.LockedTransferState{
		PaymentIdentifier: 1,
		Token:             tokenAddr,
		Amount:            big.NewInt(100),
		Initiator:         partnerAddr,
		Target:            ourAddr,
		Lock: &mediatedtransfer.LockState{
			Amount:     big.NewInt(100),
			Expiration: 200,
			SecretHash: testSecretHash,
		},
		BalanceProof: &transfer.BalanceProof{
			TransferredAmount:      new(big.Int),
			ChannelAddress:         channelAddr,
			TokenNetworkIdentifier: tokenNetworkAddr,
			Sender:                 partnerAddr,
		},
	}
}

// Scenario: init then block. No channels exist, so the block produces no
// events and only moves the height.
func TestInitThenBlock(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)

	iteration := StateTransition(nodeState, &transfer.Block{BlockNumber: 101})
	if iteration.NewState.BlockNumber != 101 {
		t.Fatalf("expected block number 101, got %d", iteration.NewState.BlockNumber)
	}
	if len(iteration.Events) != 0 {
		t.Fatalf("expected no events, got %v", spew.Sdump(iteration.Events))
	}
}

func TestBlockRegressionPanics(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	StateTransition(nodeState, &transfer.Block{BlockNumber: 110})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on a regressing block number")
		}
	}()
	StateTransition(nodeState, &transfer.Block{BlockNumber: 105})
}

func TestUnknownStateChangePanics(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)

	type bogusStateChange struct{}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on an unknown state change type")
		}
	}()
	StateTransition(nodeState, &bogusStateChange{})
}

// Scenario: registering the same payment network twice must leave exactly
// one entry and emit nothing either time.
func TestNewPaymentNetworkIdempotent(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	paymentNetwork := transfer.NewPaymentNetworkState(paymentNetworkAddr, nil)

	for i := 0; i < 2; i++ {
		iteration := StateTransition(nodeState, &transfer.ContractReceiveNewPaymentNetwork{
			PaymentNetwork: paymentNetwork,
		})
		if len(iteration.Events) != 0 {
			t.Fatalf("attempt %d: expected no events, got %v", i, iteration.Events)
		}
	}

	if len(nodeState.IdentifiersToPaymentNetworks) != 1 {
		t.Fatalf("expected exactly one payment network, got %d",
			len(nodeState.IdentifiersToPaymentNetworks))
	}
}

func TestTokenNetworkRegistrationIdempotent(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	// A duplicate contract event for the same token must not disturb the
	// registry.
	StateTransition(nodeState, &transfer.ContractReceiveNewTokenNetwork{
		PaymentNetworkIdentifier: paymentNetworkAddr,
		TokenNetwork:             transfer.NewTokenNetworkState(tokenNetworkAddr, tokenAddr),
	})

	paymentNetwork := nodeState.IdentifiersToPaymentNetworks[paymentNetworkAddr]
	if len(paymentNetwork.TokenIdentifiersToTokenNetworks) != 1 ||
		len(paymentNetwork.TokenAddressesToTokenNetworks) != 1 {

		t.Fatalf("expected one token network in both indexes, got %d/%d",
			len(paymentNetwork.TokenIdentifiersToTokenNetworks),
			len(paymentNetwork.TokenAddressesToTokenNetworks))
	}
}

// Scenario: a secret hash claimed by an initiator task must reject a
// mediator init under the same hash without mutating anything.
func TestCrossVariantCollision(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	iteration := StateTransition(nodeState, &mediatedtransfer.ActionInitInitiator{
		Transfer: &mediatedtransfer.TransferDescription{
			TokenNetworkIdentifier: tokenNetworkAddr,
			PaymentIdentifier:      1,
			Amount:                 big.NewInt(100),
			Initiator:              ourAddr,
			Target:                 targetAddr,
			Secret:                 testSecret,
			SecretHash:             testSecretHash,
		},
	})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected the locked transfer to go out, got %v",
			spew.Sdump(iteration.Events))
	}

	installed, ok := nodeState.PaymentMapping.SecretHashesToTask[testSecretHash].(*InitiatorTask)
	if !ok {
		t.Fatalf("expected an initiator task under the secret hash")
	}

	iteration = StateTransition(nodeState, &mediatedtransfer.ActionInitMediator{
		FromTransfer: newTestLockedTransfer(),
	})
	if len(iteration.Events) != 0 {
		t.Fatalf("colliding init must not emit events, got %v", iteration.Events)
	}

	after := nodeState.PaymentMapping.SecretHashesToTask[testSecretHash]
	if after != transfer.Task(installed) {
		t.Fatalf("colliding init must leave the initiator task intact")
	}
}

// Scenario: a mediator machine that terminates on ReceiveUnlock must have
// its task removed from the payment mapping.
func TestTaskRetirementOnUnlock(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	StateTransition(nodeState, &mediatedtransfer.ActionInitMediator{
		FromTransfer: newTestLockedTransfer(),
	})
	if _, ok := nodeState.PaymentMapping.SecretHashesToTask[testSecretHash].(*MediatorTask); !ok {
		t.Fatalf("expected a mediator task under the secret hash")
	}

	iteration := StateTransition(nodeState, &transfer.ReceiveUnlock{
		SecretHash: testSecretHash,
		Secret:     testSecret,
	})

	if _, exists := nodeState.PaymentMapping.SecretHashesToTask[testSecretHash]; exists {
		t.Fatalf("expected the task to retire with its machine")
	}

	var sawUnlockSuccess bool
	for _, event := range iteration.Events {
		if _, ok := event.(*mediatedtransfer.EventUnlockSuccess); ok {
			sawUnlockSuccess = true
		}
	}
	if !sawUnlockSuccess {
		t.Fatalf("expected an unlock success notification, got %v",
			spew.Sdump(iteration.Events))
	}
}

// Scenario: a processed acknowledgment for a direct transfer removes the
// queued message and produces exactly one transfer-success notification.
func TestProcessedDirectTransferAck(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	iteration := StateTransition(nodeState, &transfer.ActionTransferDirect{
		TokenNetworkIdentifier: tokenNetworkAddr,
		ReceiverAddress:        partnerAddr,
		PaymentIdentifier:      7,
		Amount:                 big.NewInt(500),
	})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected one send event, got %v", spew.Sdump(iteration.Events))
	}

	directTransfer, ok := iteration.Events[0].(*transfer.SendDirectTransfer)
	if !ok {
		t.Fatalf("expected a direct transfer, got %T", iteration.Events[0])
	}

	queueID := directTransfer.QueueIdentifier()
	if got := len(nodeState.QueueIDsToQueues[queueID]); got != 1 {
		t.Fatalf("expected the message to be queued, queue has %d entries", got)
	}

	iteration = StateTransition(nodeState, &transfer.ReceiveProcessed{
		MessageIdentifier: directTransfer.MessageID(),
	})

	if got := len(nodeState.QueueIDsToQueues[queueID]); got != 0 {
		t.Fatalf("expected the queue to drain, still has %d entries", got)
	}

	if len(iteration.Events) != 1 {
		t.Fatalf("expected exactly one notification, got %v",
			spew.Sdump(iteration.Events))
	}
	success, ok := iteration.Events[0].(*transfer.EventTransferSentSuccess)
	if !ok {
		t.Fatalf("expected a transfer-success event, got %T", iteration.Events[0])
	}

	expected := &transfer.EventTransferSentSuccess{
		PaymentIdentifier: 7,
		Amount:            big.NewInt(500),
		Target:            partnerAddr,
	}
	if !reflect.DeepEqual(success, expected) {
		t.Fatalf("notification mismatch: got %v, want %v",
			spew.Sdump(success), spew.Sdump(expected))
	}
}

// Scenario: Delivered only drains global queues; an equal message id on a
// channel queue stays put until Processed.
func TestDeliveredGlobalQueueSelectivity(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)

	const messageID = transfer.MessageID(7777)
	globalQueue := transfer.QueueID{Recipient: partnerAddr, Name: transfer.GlobalQueueName}
	channelQueue := transfer.QueueID{Recipient: partnerAddr, Name: channelAddr.Hex()}

	nodeState.QueueIDsToQueues[globalQueue] = []transfer.SendMessageEvent{
		&mediatedtransfer.SendRevealSecret{
			SendMessage: transfer.SendMessage{
				Recipient:         partnerAddr,
				QueueName:         transfer.GlobalQueueName,
				MessageIdentifier: messageID,
			},
			Secret:     testSecret,
			SecretHash: testSecretHash,
		},
	}
	nodeState.QueueIDsToQueues[channelQueue] = []transfer.SendMessageEvent{
		&transfer.SendDirectTransfer{
			SendMessage: transfer.SendMessage{
				Recipient:         partnerAddr,
				QueueName:         channelAddr.Hex(),
				MessageIdentifier: messageID,
			},
			PaymentIdentifier: 7,
			BalanceProof:      &transfer.BalanceProof{TransferredAmount: big.NewInt(500)},
		},
	}

	StateTransition(nodeState, &transfer.ReceiveDelivered{MessageIdentifier: messageID})

	if got := len(nodeState.QueueIDsToQueues[globalQueue]); got != 0 {
		t.Fatalf("expected the global queue to drain, still has %d entries", got)
	}
	if got := len(nodeState.QueueIDsToQueues[channelQueue]); got != 1 {
		t.Fatalf("expected the channel queue to be untouched, has %d entries", got)
	}
}

// The settle window: a closed channel asks for settlement exactly when the
// window elapses, and the settlement event retires channel, token network
// and its registry entries.
func TestChannelSettlementRetiresTokenNetwork(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	StateTransition(nodeState, &transfer.ContractReceiveChannelClosed{
		TokenNetworkIdentifier: tokenNetworkAddr,
		ChannelIdentifier:      channelAddr,
		ClosingAddress:         partnerAddr,
		ClosedBlockNumber:      110,
	})

	iteration := StateTransition(nodeState, &transfer.Block{BlockNumber: 160})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected the settle request, got %v", spew.Sdump(iteration.Events))
	}
	if _, ok := iteration.Events[0].(*transfer.ContractSendChannelSettle); !ok {
		t.Fatalf("expected a settle event, got %T", iteration.Events[0])
	}

	StateTransition(nodeState, &transfer.ContractReceiveChannelSettled{
		TokenNetworkIdentifier: tokenNetworkAddr,
		ChannelIdentifier:      channelAddr,
		SettledBlockNumber:     161,
	})

	paymentNetwork := nodeState.IdentifiersToPaymentNetworks[paymentNetworkAddr]
	if len(paymentNetwork.TokenIdentifiersToTokenNetworks) != 0 ||
		len(paymentNetwork.TokenAddressesToTokenNetworks) != 0 {

		t.Fatalf("expected the token network to retire with its last channel")
	}

	// A late event for the retired channel must be absorbed.
	iteration = StateTransition(nodeState, &transfer.ContractReceiveChannelClosed{
		TokenNetworkIdentifier: tokenNetworkAddr,
		ChannelIdentifier:      channelAddr,
		ClosedBlockNumber:      162,
	})
	if len(iteration.Events) != 0 {
		t.Fatalf("late event for a retired channel must be a no-op, got %v",
			iteration.Events)
	}
}

func TestLeaveAllNetworks(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	iteration := StateTransition(nodeState, &transfer.ActionLeaveAllNetworks{})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected one close request, got %v", spew.Sdump(iteration.Events))
	}

	closeEvent, ok := iteration.Events[0].(*transfer.ContractSendChannelClose)
	if !ok {
		t.Fatalf("expected a close event, got %T", iteration.Events[0])
	}
	if closeEvent.ChannelIdentifier != channelAddr {
		t.Fatalf("close event for the wrong channel: %v", closeEvent.ChannelIdentifier)
	}

	// The reducer itself must not touch the channel; it closes only when
	// the contract event comes back.
	channelState := transfer.GetChannelStateByTokenNetworkIdentifier(
		nodeState, tokenNetworkAddr, channelAddr,
	)
	if channelState.Status() != transfer.ChannelStateOpened {
		t.Fatalf("leave must not transition channels, status is %v",
			channelState.Status())
	}
}

func TestChangeNodeNetworkState(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)

	StateTransition(nodeState, &transfer.ActionChangeNodeNetworkState{
		NodeAddress:  partnerAddr,
		NetworkState: transfer.NetworkReachable,
	})

	if got := nodeState.NodeAddressesToNetworkStates[partnerAddr]; got != transfer.NetworkReachable {
		t.Fatalf("expected reachable, got %v", got)
	}
}

// The target role end to end: install, secret request out, reveal answered,
// unlock retires the task with a received-success notification.
func TestTargetTaskLifecycle(t *testing.T) {
	t.Parallel()

	nodeState := newTestNodeState(t)
	registerTokenNetwork(t, nodeState)

	iteration := StateTransition(nodeState, &mediatedtransfer.ActionInitTarget{
		Transfer: newTestLockedTransfer(),
	})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected the secret request, got %v", spew.Sdump(iteration.Events))
	}
	request, ok := iteration.Events[0].(*mediatedtransfer.SendSecretRequest)
	if !ok {
		t.Fatalf("expected a secret request, got %T", iteration.Events[0])
	}
	if request.QueueIdentifier().Name != transfer.GlobalQueueName {
		t.Fatalf("secret handling must use the global queue, got %q",
			request.QueueIdentifier().Name)
	}

	iteration = StateTransition(nodeState, &mediatedtransfer.ReceiveSecretReveal{
		Secret:     testSecret,
		SecretHash: testSecretHash,
		Sender:     partnerAddr,
	})
	if len(iteration.Events) != 1 {
		t.Fatalf("expected the reveal answer, got %v", spew.Sdump(iteration.Events))
	}

	iteration = StateTransition(nodeState, &transfer.ReceiveUnlock{
		SecretHash: testSecretHash,
		Secret:     testSecret,
	})
	if _, exists := nodeState.PaymentMapping.SecretHashesToTask[testSecretHash]; exists {
		t.Fatalf("expected the target task to retire on unlock")
	}

	received, ok := iteration.Events[0].(*transfer.EventTransferReceivedSuccess)
	if !ok {
		t.Fatalf("expected a received-success event, got %T", iteration.Events[0])
	}
	if received.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected amount 100, got %v", received.Amount)
	}
}

// Replaying the same state-change sequence from the same seed must
// reproduce both the final state and the event stream exactly.
func TestReplayDeterminism(t *testing.T) {
	t.Parallel()

	script := func() []transfer.StateChange {
		return []transfer.StateChange{
			&transfer.ActionInitNode{
				PseudoRandomGenerator: transfer.NewPRNG(42),
				BlockNumber:           100,
			},
			&transfer.ContractReceiveNewPaymentNetwork{
				PaymentNetwork: transfer.NewPaymentNetworkState(paymentNetworkAddr, nil),
			},
			&transfer.ContractReceiveNewTokenNetwork{
				PaymentNetworkIdentifier: paymentNetworkAddr,
				TokenNetwork:             transfer.NewTokenNetworkState(tokenNetworkAddr, tokenAddr),
			},
			&transfer.ContractReceiveChannelNew{
				TokenNetworkIdentifier: tokenNetworkAddr,
				ChannelState:           newTestChannelState(),
			},
			&transfer.ContractReceiveRouteNew{
				TokenNetworkIdentifier: tokenNetworkAddr,
				ChannelIdentifier:      common.HexToAddress("0x05"),
				Participant1:           partnerAddr,
				Participant2:           targetAddr,
			},
			&transfer.Block{BlockNumber: 101},
			&mediatedtransfer.ActionInitInitiator{
				Transfer: &mediatedtransfer.TransferDescription{
					TokenNetworkIdentifier: tokenNetworkAddr,
					PaymentIdentifier:      1,
					Amount:                 big.NewInt(100),
					Initiator:              ourAddr,
					Target:                 targetAddr,
					Secret:                 testSecret,
					SecretHash:             testSecretHash,
				},
			},
			&mediatedtransfer.ReceiveSecretRequest{
				PaymentIdentifier: 1,
				Amount:            big.NewInt(100),
				SecretHash:        testSecretHash,
				Sender:            targetAddr,
			},
			&transfer.ActionTransferDirect{
				TokenNetworkIdentifier: tokenNetworkAddr,
				ReceiverAddress:        partnerAddr,
				PaymentIdentifier:      7,
				Amount:                 big.NewInt(500),
			},
			&transfer.Block{BlockNumber: 102},
		}
	}

	run := func() (*transfer.NodeState, []transfer.Event) {
		var (
			nodeState *transfer.NodeState
			events    []transfer.Event
		)
		for _, stateChange := range script() {
			iteration := StateTransition(nodeState, stateChange)
			nodeState = iteration.NewState
			events = append(events, iteration.Events...)
		}
		return nodeState, events
	}

	firstState, firstEvents := run()
	secondState, secondEvents := run()

	if !reflect.DeepEqual(firstEvents, secondEvents) {
		t.Fatalf("event streams diverged:\nfirst: %v\nsecond: %v",
			spew.Sdump(firstEvents), spew.Sdump(secondEvents))
	}
	if !reflect.DeepEqual(firstState, secondState) {
		t.Fatalf("final states diverged:\nfirst: %v\nsecond: %v",
			spew.Sdump(firstState), spew.Sdump(secondState))
	}
}

// Package node implements the state-transition engine of a payment-channel
// node. The engine is a deterministic reducer: given the current node state
// and one state change it produces the new state and the ordered side
// effects to perform. It does no I/O and reads no clocks; the chain watcher,
// the transport and the write-ahead log drive it from the outside, one state
// change at a time.
//
// The reducer may mutate the input state in place; callers must treat the
// input as consumed and must not alias interior containers across
// transitions.
package node

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meshpay/meshd/transfer"
	"github.com/meshpay/meshd/transfer/channel"
	"github.com/meshpay/meshd/transfer/mediatedtransfer"
	"github.com/meshpay/meshd/transfer/tokennetwork"
)

// TransitionResult pairs the state after a transition with the events it
// emitted, in emission order.
type TransitionResult struct {
	NewState *transfer.NodeState
	Events   []transfer.Event
}

// StateTransition applies one state change to the node state. Unknown state
// change types and post-condition violations are programming errors and
// panic; semantically invalid changes, such as late events referencing
// retired objects, are absorbed as no-ops so that replays stay idempotent.
func StateTransition(nodeState *transfer.NodeState, stateChange transfer.StateChange) TransitionResult {
	log.Tracef("state transition: %v", newLogClosure(func() string {
		return spew.Sdump(stateChange)
	}))

	var iteration TransitionResult

	switch sc := stateChange.(type) {
	case *transfer.Block:
		iteration = handleBlock(nodeState, sc)

	case *transfer.ActionInitNode:
		iteration = handleNodeInit(nodeState, sc)

	case *transfer.ActionNewTokenNetwork:
		iteration = handleNewTokenNetwork(nodeState, sc)

	case *transfer.ActionChannelClose:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ActionChangeNodeNetworkState:
		iteration = handleNodeChangeNetworkState(nodeState, sc)

	case *transfer.ActionTransferDirect:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ActionLeaveAllNetworks:
		iteration = handleLeaveAllNetworks(nodeState)

	case *mediatedtransfer.ActionInitInitiator:
		iteration = handleInitInitiator(nodeState, sc)

	case *mediatedtransfer.ActionInitMediator:
		iteration = handleInitMediator(nodeState, sc)

	case *mediatedtransfer.ActionInitTarget:
		iteration = handleInitTarget(nodeState, sc)

	case *transfer.ContractReceiveNewPaymentNetwork:
		iteration = handleNewPaymentNetwork(nodeState, sc)

	case *transfer.ContractReceiveNewTokenNetwork:
		iteration = handleTokenAdded(nodeState, sc)

	case *transfer.ContractReceiveChannelBatchUnlock:
		iteration = handleChannelBatchUnlock(nodeState, sc)

	case *transfer.ContractReceiveChannelNew:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ContractReceiveChannelClosed:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ContractReceiveChannelNewBalance:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ContractReceiveChannelSettled:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ContractReceiveRouteNew:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *transfer.ContractReceiveSecretReveal:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.SecretHash)

	case *transfer.ReceiveTransferDirect:
		iteration = handleTokenNetworkAction(nodeState, sc, sc.TokenNetworkIdentifier)

	case *mediatedtransfer.ReceiveSecretReveal:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.SecretHash)

	case *mediatedtransfer.ReceiveTransferRefundCancelRoute:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.Transfer.Lock.SecretHash)

	case *mediatedtransfer.ReceiveTransferRefund:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.Transfer.Lock.SecretHash)

	case *mediatedtransfer.ReceiveSecretRequest:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.SecretHash)

	case *transfer.ReceiveDelivered:
		iteration = handleDelivered(nodeState, sc)

	case *transfer.ReceiveProcessed:
		iteration = handleProcessed(nodeState, sc)

	case *transfer.ReceiveUnlock:
		iteration = subdispatchToPaymentTask(nodeState, sc, sc.SecretHash)

	default:
		panic(fmt.Sprintf("node: unknown state change type %T", stateChange))
	}

	updateQueues(iteration.NewState, iteration.Events)
	sanityCheck(iteration)

	return iteration
}

// handleBlock records the new height, then fans the block out to every
// channel and every payment task. Channel events come first, then task
// events, each group in the stable sorted traversal order.
func handleBlock(nodeState *transfer.NodeState, stateChange *transfer.Block) TransitionResult {
	if stateChange.BlockNumber < nodeState.BlockNumber {
		panic(fmt.Sprintf("node: block number regressed from %d to %d",
			nodeState.BlockNumber, stateChange.BlockNumber))
	}

	blockNumber := stateChange.BlockNumber
	nodeState.BlockNumber = blockNumber

	channelsResult := subdispatchToAllChannels(nodeState, stateChange, blockNumber)
	transfersResult := subdispatchToAllLockedTransfers(nodeState, stateChange)

	events := append(channelsResult.Events, transfersResult.Events...)
	return TransitionResult{NewState: nodeState, Events: events}
}

func handleNodeInit(nodeState *transfer.NodeState, stateChange *transfer.ActionInitNode) TransitionResult {
	// Whatever state existed before is discarded; init is the birth of
	// the tree.
	nodeState = transfer.NewNodeState(
		stateChange.PseudoRandomGenerator,
		stateChange.BlockNumber,
	)
	return TransitionResult{NewState: nodeState}
}

// handleTokenNetworkAction delegates a change scoped to one token network.
// When the token network machine terminates, the entry is removed from both
// payment network indexes atomically.
func handleTokenNetworkAction(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	tokenNetworkIdentifier common.Address) TransitionResult {

	tokenNetworkState := transfer.GetTokenNetworkByIdentifier(nodeState, tokenNetworkIdentifier)

	var events []transfer.Event
	if tokenNetworkState != nil {
		newState, tokenNetworkEvents := tokennetwork.StateTransition(
			tokenNetworkState,
			stateChange,
			nodeState.PseudoRandomGenerator,
			nodeState.BlockNumber,
		)
		events = tokenNetworkEvents

		if newState == nil {
			removeTokenNetwork(nodeState, tokenNetworkState)
		}
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

func handleChannelBatchUnlock(nodeState *transfer.NodeState,
	stateChange *transfer.ContractReceiveChannelBatchUnlock) TransitionResult {

	tokenNetworkState := transfer.GetTokenNetworkByIdentifier(nodeState, stateChange.TokenNetworkIdentifier)

	var events []transfer.Event
	if tokenNetworkState != nil {
		newState, subEvents := tokennetwork.SubdispatchToChannelByID(
			tokenNetworkState,
			stateChange,
			stateChange.ChannelIdentifier,
			nodeState.BlockNumber,
		)
		events = subEvents

		if newState == nil {
			removeTokenNetwork(nodeState, tokenNetworkState)
		}
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

func removeTokenNetwork(nodeState *transfer.NodeState, tokenNetworkState *transfer.TokenNetworkState) {
	paymentNetworkState := transfer.SearchPaymentNetworkByTokenNetworkID(
		nodeState, tokenNetworkState.Address,
	)
	if paymentNetworkState == nil {
		return
	}

	delete(paymentNetworkState.TokenAddressesToTokenNetworks, tokenNetworkState.TokenAddress)
	delete(paymentNetworkState.TokenIdentifiersToTokenNetworks, tokenNetworkState.Address)

	log.Debugf("token network %v retired from payment network %v",
		tokenNetworkState.Address, paymentNetworkState.Address)
}

func handleNewTokenNetwork(nodeState *transfer.NodeState,
	stateChange *transfer.ActionNewTokenNetwork) TransitionResult {

	maybeAddTokenNetwork(nodeState, stateChange.PaymentNetworkIdentifier, stateChange.TokenNetwork)
	return TransitionResult{NewState: nodeState}
}

func handleTokenAdded(nodeState *transfer.NodeState,
	stateChange *transfer.ContractReceiveNewTokenNetwork) TransitionResult {

	maybeAddTokenNetwork(nodeState, stateChange.PaymentNetworkIdentifier, stateChange.TokenNetwork)
	return TransitionResult{NewState: nodeState}
}

func handleNewPaymentNetwork(nodeState *transfer.NodeState,
	stateChange *transfer.ContractReceiveNewPaymentNetwork) TransitionResult {

	paymentNetwork := stateChange.PaymentNetwork
	if _, ok := nodeState.IdentifiersToPaymentNetworks[paymentNetwork.Address]; !ok {
		nodeState.IdentifiersToPaymentNetworks[paymentNetwork.Address] = paymentNetwork
	}

	return TransitionResult{NewState: nodeState}
}

func handleNodeChangeNetworkState(nodeState *transfer.NodeState,
	stateChange *transfer.ActionChangeNodeNetworkState) TransitionResult {

	nodeState.NodeAddressesToNetworkStates[stateChange.NodeAddress] = stateChange.NetworkState
	return TransitionResult{NewState: nodeState}
}

// handleLeaveAllNetworks requests a graceful close of every channel. The
// reducer mutates nothing here; the channels transition once the generated
// close calls come back as observed contract events.
func handleLeaveAllNetworks(nodeState *transfer.NodeState) TransitionResult {
	var events []transfer.Event

	for _, paymentNetworkID := range transfer.SortedPaymentNetworkIDs(nodeState) {
		paymentNetwork := nodeState.IdentifiersToPaymentNetworks[paymentNetworkID]

		for _, tokenAddress := range transfer.SortedTokenAddresses(paymentNetwork) {
			tokenNetworkState := paymentNetwork.TokenAddressesToTokenNetworks[tokenAddress]

			for _, partner := range transfer.SortedPartnerAddresses(tokenNetworkState) {
				channelState := tokenNetworkState.PartnerAddressesToChannels[partner]
				events = append(events,
					channel.EventsForClose(channelState, nodeState.BlockNumber)...)
			}
		}
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

func handleInitInitiator(nodeState *transfer.NodeState,
	stateChange *mediatedtransfer.ActionInitInitiator) TransitionResult {

	description := stateChange.Transfer
	return subdispatchInitiatorTask(
		nodeState, stateChange, description.TokenNetworkIdentifier, description.SecretHash,
	)
}

func handleInitMediator(nodeState *transfer.NodeState,
	stateChange *mediatedtransfer.ActionInitMediator) TransitionResult {

	fromTransfer := stateChange.FromTransfer
	return subdispatchMediatorTask(
		nodeState, stateChange,
		fromTransfer.BalanceProof.TokenNetworkIdentifier,
		fromTransfer.Lock.SecretHash,
	)
}

func handleInitTarget(nodeState *transfer.NodeState,
	stateChange *mediatedtransfer.ActionInitTarget) TransitionResult {

	lockedTransfer := stateChange.Transfer
	return subdispatchTargetTask(
		nodeState, stateChange,
		lockedTransfer.BalanceProof.TokenNetworkIdentifier,
		lockedTransfer.BalanceProof.ChannelAddress,
		lockedTransfer.Lock.SecretHash,
	)
}

// handleDelivered acknowledges a message id on the global queues only;
// equal ids sitting on channel queues are left alone, those need Processed.
func handleDelivered(nodeState *transfer.NodeState,
	stateChange *transfer.ReceiveDelivered) TransitionResult {

	for queueID, queue := range nodeState.QueueIDsToQueues {
		if queueID.Name != transfer.GlobalQueueName {
			continue
		}
		nodeState.QueueIDsToQueues[queueID] = removeMessage(queue, stateChange.MessageIdentifier)
	}

	return TransitionResult{NewState: nodeState}
}

// handleProcessed acknowledges a message id on every queue. Each removed
// direct transfer additionally produces the transfer-success notification;
// this is the only place that notification is made.
func handleProcessed(nodeState *transfer.NodeState,
	stateChange *transfer.ReceiveProcessed) TransitionResult {

	var events []transfer.Event

	for _, queueID := range transfer.SortedQueueIDs(nodeState) {
		queue := nodeState.QueueIDsToQueues[queueID]

		kept := queue[:0:len(queue)]
		for _, message := range queue {
			if message.MessageID() != stateChange.MessageIdentifier {
				kept = append(kept, message)
				continue
			}

			// TODO: ensure the Processed message came from the
			// peer the original message was addressed to.
			if directTransfer, ok := message.(*transfer.SendDirectTransfer); ok {
				events = append(events, &transfer.EventTransferSentSuccess{
					PaymentIdentifier: directTransfer.PaymentIdentifier,
					Amount:            directTransfer.BalanceProof.TransferredAmount,
					Target:            directTransfer.Recipient,
				})
			}
		}
		nodeState.QueueIDsToQueues[queueID] = kept
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchToAllChannels fans a state change out to every channel of every
// token network of every payment network, in the stable traversal order.
func subdispatchToAllChannels(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	blockNumber int64) TransitionResult {

	var events []transfer.Event

	for _, paymentNetworkID := range transfer.SortedPaymentNetworkIDs(nodeState) {
		paymentNetwork := nodeState.IdentifiersToPaymentNetworks[paymentNetworkID]

		for _, tokenAddress := range transfer.SortedTokenAddresses(paymentNetwork) {
			tokenNetworkState := paymentNetwork.TokenAddressesToTokenNetworks[tokenAddress]

			for _, channelID := range transfer.SortedChannelIdentifiers(tokenNetworkState) {
				channelState := tokenNetworkState.ChannelIdentifiersToChannels[channelID]

				_, channelEvents := channel.StateTransition(
					channelState, stateChange, blockNumber,
				)
				events = append(events, channelEvents...)
			}
		}
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchToAllLockedTransfers fans a state change out to every in-flight
// payment task, in secret-hash order.
func subdispatchToAllLockedTransfers(nodeState *transfer.NodeState,
	stateChange transfer.StateChange) TransitionResult {

	var events []transfer.Event

	for _, secretHash := range transfer.SortedSecretHashes(nodeState.PaymentMapping) {
		result := subdispatchToPaymentTask(nodeState, stateChange, secretHash)
		events = append(events, result.Events...)
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchToPaymentTask routes a state change carrying a secret hash to
// whichever task variant is installed under it. Missing tasks and retired
// token networks or channels absorb the change.
func subdispatchToPaymentTask(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	secretHash common.Hash) TransitionResult {

	blockNumber := nodeState.BlockNumber
	prng := nodeState.PseudoRandomGenerator

	var events []transfer.Event

	switch subTask := nodeState.PaymentMapping.SecretHashesToTask[secretHash].(type) {
	case *InitiatorTask:
		tokenNetworkState := transfer.GetTokenNetworkByIdentifier(
			nodeState, subTask.TokenNetworkIdentifier,
		)
		if tokenNetworkState == nil {
			break
		}

		newSubState, subEvents := mediatedtransfer.InitiatorStateTransition(
			subTask.ManagerState, stateChange,
			tokenNetworkState.ChannelIdentifiersToChannels, prng, blockNumber,
		)
		events = subEvents
		if newSubState == nil {
			delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
		} else {
			subTask.ManagerState = newSubState
		}

	case *MediatorTask:
		tokenNetworkState := transfer.GetTokenNetworkByIdentifier(
			nodeState, subTask.TokenNetworkIdentifier,
		)
		if tokenNetworkState == nil {
			break
		}

		newSubState, subEvents := mediatedtransfer.MediatorStateTransition(
			subTask.MediatorState, stateChange,
			tokenNetworkState.ChannelIdentifiersToChannels, prng, blockNumber,
		)
		events = subEvents
		if newSubState == nil {
			delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
		} else {
			subTask.MediatorState = newSubState
		}

	case *TargetTask:
		channelState := transfer.GetChannelStateByTokenNetworkIdentifier(
			nodeState, subTask.TokenNetworkIdentifier, subTask.ChannelIdentifier,
		)
		if channelState == nil {
			break
		}

		newSubState, subEvents := mediatedtransfer.TargetStateTransition(
			subTask.TargetState, stateChange, channelState, prng, blockNumber,
		)
		events = subEvents
		if newSubState == nil {
			delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
		} else {
			subTask.TargetState = newSubState
		}
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchInitiatorTask installs or advances the initiator task under the
// given secret hash. A hash already claimed by another variant, or by an
// initiator in a different token network, makes the call invalid and nothing
// is mutated.
func subdispatchInitiatorTask(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	tokenNetworkIdentifier common.Address, secretHash common.Hash) TransitionResult {

	var managerState *mediatedtransfer.InitiatorState

	switch subTask := nodeState.PaymentMapping.SecretHashesToTask[secretHash].(type) {
	case nil:
	case *InitiatorTask:
		if subTask.TokenNetworkIdentifier != tokenNetworkIdentifier {
			return TransitionResult{NewState: nodeState}
		}
		managerState = subTask.ManagerState
	default:
		return TransitionResult{NewState: nodeState}
	}

	tokenNetworkState := transfer.GetTokenNetworkByIdentifier(nodeState, tokenNetworkIdentifier)
	if tokenNetworkState == nil {
		return TransitionResult{NewState: nodeState}
	}

	newSubState, events := mediatedtransfer.InitiatorStateTransition(
		managerState, stateChange,
		tokenNetworkState.ChannelIdentifiersToChannels,
		nodeState.PseudoRandomGenerator, nodeState.BlockNumber,
	)

	if newSubState != nil {
		nodeState.PaymentMapping.SecretHashesToTask[secretHash] = &InitiatorTask{
			TokenNetworkIdentifier: tokenNetworkIdentifier,
			ManagerState:           newSubState,
		}
	} else {
		delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchMediatorTask mirrors subdispatchInitiatorTask for the relaying
// role.
func subdispatchMediatorTask(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	tokenNetworkIdentifier common.Address, secretHash common.Hash) TransitionResult {

	var mediatorState *mediatedtransfer.MediatorState

	switch subTask := nodeState.PaymentMapping.SecretHashesToTask[secretHash].(type) {
	case nil:
	case *MediatorTask:
		if subTask.TokenNetworkIdentifier != tokenNetworkIdentifier {
			return TransitionResult{NewState: nodeState}
		}
		mediatorState = subTask.MediatorState
	default:
		return TransitionResult{NewState: nodeState}
	}

	tokenNetworkState := transfer.GetTokenNetworkByIdentifier(nodeState, tokenNetworkIdentifier)
	if tokenNetworkState == nil {
		return TransitionResult{NewState: nodeState}
	}

	newSubState, events := mediatedtransfer.MediatorStateTransition(
		mediatorState, stateChange,
		tokenNetworkState.ChannelIdentifiersToChannels,
		nodeState.PseudoRandomGenerator, nodeState.BlockNumber,
	)

	if newSubState != nil {
		nodeState.PaymentMapping.SecretHashesToTask[secretHash] = &MediatorTask{
			TokenNetworkIdentifier: tokenNetworkIdentifier,
			MediatorState:          newSubState,
		}
	} else {
		delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// subdispatchTargetTask mirrors subdispatchInitiatorTask for the receiving
// role, which is additionally bound to the channel the transfer arrived on.
func subdispatchTargetTask(nodeState *transfer.NodeState, stateChange transfer.StateChange,
	tokenNetworkIdentifier, channelIdentifier common.Address, secretHash common.Hash) TransitionResult {

	var targetState *mediatedtransfer.TargetState

	switch subTask := nodeState.PaymentMapping.SecretHashesToTask[secretHash].(type) {
	case nil:
	case *TargetTask:
		if subTask.TokenNetworkIdentifier != tokenNetworkIdentifier {
			return TransitionResult{NewState: nodeState}
		}
		targetState = subTask.TargetState
	default:
		return TransitionResult{NewState: nodeState}
	}

	channelState := transfer.GetChannelStateByTokenNetworkIdentifier(
		nodeState, tokenNetworkIdentifier, channelIdentifier,
	)
	if channelState == nil {
		return TransitionResult{NewState: nodeState}
	}

	newSubState, events := mediatedtransfer.TargetStateTransition(
		targetState, stateChange, channelState,
		nodeState.PseudoRandomGenerator, nodeState.BlockNumber,
	)

	if newSubState != nil {
		nodeState.PaymentMapping.SecretHashesToTask[secretHash] = &TargetTask{
			TokenNetworkIdentifier: tokenNetworkIdentifier,
			ChannelIdentifier:      channelIdentifier,
			TargetState:            newSubState,
		}
	} else {
		delete(nodeState.PaymentMapping.SecretHashesToTask, secretHash)
	}

	return TransitionResult{NewState: nodeState, Events: events}
}

// maybeAddTokenNetwork registers a token network, creating its payment
// network on first sight. Registering the same token network twice is a
// no-op.
func maybeAddTokenNetwork(nodeState *transfer.NodeState, paymentNetworkIdentifier common.Address,
	tokenNetworkState *transfer.TokenNetworkState) {

	paymentNetworkState, previous := transfer.GetNetworks(
		nodeState, paymentNetworkIdentifier, tokenNetworkState.TokenAddress,
	)

	if paymentNetworkState == nil {
		paymentNetworkState = transfer.NewPaymentNetworkState(
			paymentNetworkIdentifier,
			[]*transfer.TokenNetworkState{tokenNetworkState},
		)
		nodeState.IdentifiersToPaymentNetworks[paymentNetworkIdentifier] = paymentNetworkState
		return
	}

	if previous == nil {
		paymentNetworkState.TokenIdentifiersToTokenNetworks[tokenNetworkState.Address] = tokenNetworkState
		paymentNetworkState.TokenAddressesToTokenNetworks[tokenNetworkState.TokenAddress] = tokenNetworkState
	}
}

// updateQueues appends every send event of the transition to the queue it
// belongs to, preserving emission order. Queues are created lazily.
func updateQueues(nodeState *transfer.NodeState, events []transfer.Event) {
	for _, event := range events {
		sendEvent, ok := event.(transfer.SendMessageEvent)
		if !ok {
			continue
		}

		queueID := sendEvent.QueueIdentifier()
		nodeState.QueueIDsToQueues[queueID] = append(nodeState.QueueIDsToQueues[queueID], sendEvent)
	}
}

func removeMessage(queue []transfer.SendMessageEvent, messageID transfer.MessageID) []transfer.SendMessageEvent {
	kept := queue[:0:len(queue)]
	for _, message := range queue {
		if message.MessageID() != messageID {
			kept = append(kept, message)
		}
	}
	return kept
}

// sanityCheck asserts the post-transition invariants. A violation is a
// programming error and halts the process so the write-ahead log is not
// poisoned with a corrupt state.
func sanityCheck(iteration TransitionResult) {
	nodeState := iteration.NewState
	if nodeState == nil {
		panic("node: transition produced a nil node state")
	}

	for _, paymentNetwork := range nodeState.IdentifiersToPaymentNetworks {
		ids := paymentNetwork.TokenIdentifiersToTokenNetworks
		addrs := paymentNetwork.TokenAddressesToTokenNetworks
		if len(ids) != len(addrs) {
			panic(fmt.Sprintf("node: token network indexes out of sync: %d ids, %d addresses",
				len(ids), len(addrs)))
		}
		for _, tokenNetworkState := range ids {
			if addrs[tokenNetworkState.TokenAddress] != tokenNetworkState {
				panic("node: token network indexes disagree")
			}
		}
	}

	for secretHash, task := range nodeState.PaymentMapping.SecretHashesToTask {
		if emptyTask(task) {
			panic(fmt.Sprintf("node: task without sub-state under %v", secretHash))
		}
	}
}

func emptyTask(task transfer.Task) bool {
	switch t := task.(type) {
	case *InitiatorTask:
		return t.ManagerState == nil
	case *MediatorTask:
		return t.MediatorState == nil
	case *TargetTask:
		return t.TargetState == nil
	default:
		return task == nil
	}
}

package runtime

import (
	"context"

	addr "github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
	cbor "github.com/filecoin-project/go-state-types/cbor"
	exitcode "github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
)

// Runtime is the execution environment available to actor code, beyond method parameters.
// Every side effect an actor can cause (reading the clock, moving funds, touching state)
// flows through it, which is what makes actors deterministic and testable in isolation.
type Runtime interface {
	// Information related to the current message being executed.
	Message() Message

	// The current chain epoch number. The genesis block has epoch zero.
	CurrEpoch() abi.ChainEpoch

	// Validates the caller against some predicate.
	// Exported actor methods must invoke exactly one caller validation before returning.
	ValidateImmediateCallerAcceptAny()
	ValidateImmediateCallerIs(addrs ...addr.Address)

	// The balance of the receiver.
	CurrentBalance() abi.TokenAmount

	// Provides a handle for the actor's state object.
	State() StateHandle

	Store() Store

	// Sends a message to another actor, returning the exit code and return value envelope.
	// If the invoked method does not return successfully, its state changes (and that of any
	// messages it sent in turn) will be rolled back.
	Send(toAddr addr.Address, methodNum abi.MethodNum, params cbor.Marshaler, value abi.TokenAmount) (SendReturn, exitcode.ExitCode)

	// Halts execution upon an error from which the receiver cannot recover.
	// The caller will receive the exit code and an empty return value.
	// State changes made within the aborted message will be rolled back.
	// This method does not return.
	// The message and args are for diagnostics and do not persist on chain; they should be
	// suitable for passing to fmt.Errorf(msg, args...).
	Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{})

	// Provides a Go context for use by the store.
	// The runtime is intended to provide an idealised machine abstraction, with infinite
	// storage etc, so this context should not be used by actor code directly.
	Context() context.Context
}

// Store defines the storage module exposed to actors.
type Store interface {
	// Retrieves and deserializes an object from the store into `o`. Returns whether successful.
	Get(c cid.Cid, o cbor.Unmarshaler) bool
	// Serializes and stores an object, returning its CID.
	Put(x cbor.Marshaler) cid.Cid
}

// Message contains information available to the actor about the executing message.
type Message interface {
	// The address of the immediate calling actor. Always an ID-address.
	Caller() addr.Address

	// The address of the actor receiving the message. Always an ID-address.
	Receiver() addr.Address

	// The value attached to the message being processed, implicitly added to
	// CurrentBalance() before method invocation.
	ValueReceived() abi.TokenAmount
}

// The return type from a message send from one actor to another. This abstracts over the
// internal representation of the return, in particular whether it has been serialized to
// bytes or just passed through.
type SendReturn interface {
	Into(cbor.Unmarshaler) error
}

// StateHandle provides mutable, exclusive access to actor state.
type StateHandle interface {
	// Create initializes the state object.
	// This is only valid in a constructor function and when the state has not yet been initialized.
	Create(obj cbor.Marshaler)

	// Readonly loads a readonly copy of the state into the argument.
	//
	// Any modification to the state is illegal and will result in an abort.
	Readonly(obj cbor.Unmarshaler)

	// Transaction loads a mutable copy of the state into `obj`, applies `f` to it, and
	// persists the result. Sends are forbidden while the transaction is open, so all state
	// mutations land before any external call can observe them.
	Transaction(obj cbor.Er, f func())
}

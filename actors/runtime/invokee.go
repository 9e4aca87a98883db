package runtime

// Invokee is satisfied by all actor code types. It is merely a method dispatch
// interface: a VM resolves a message's method number against the Exports table.
// Index zero is unused (there is no method number zero).
type Invokee interface {
	Exports() []interface{}
}

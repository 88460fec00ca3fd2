package event

// Event is implemented by payloads that carry a type name. The bus uses it
// for metric labels.
type Event interface {
	Type() string
}

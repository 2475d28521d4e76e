package lifecycle

// Actor is the capacity in which a caller edits a task.
type Actor int

const (
	ActorAssignee Actor = iota
	ActorAdmin
)

func (a Actor) String() string {
	if a == ActorAdmin {
		return "admin"
	}
	return "assignee"
}

type Field string

const (
	FieldStatus           Field = "status"
	FieldRemarks          Field = "remarks"
	FieldDeadline         Field = "deadline"
	FieldTimeRequired     Field = "timeRequired"
	FieldExtensionReason  Field = "extensionReason"
	FieldExtensionRequest Field = "extensionRequest"
)

type FieldSet map[Field]struct{}

func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

func newFieldSet(fields ...Field) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// PermittedFields is the only place that decides which task fields a caller
// may change. Anything outside the returned set is ignored on update.
func PermittedFields(actor Actor, selfAssigned bool) FieldSet {
	switch {
	case actor == ActorAdmin:
		return newFieldSet(FieldStatus, FieldDeadline, FieldTimeRequired, FieldExtensionReason)
	case selfAssigned:
		return newFieldSet(FieldStatus, FieldRemarks, FieldDeadline, FieldExtensionReason)
	default:
		return newFieldSet(FieldStatus, FieldRemarks, FieldExtensionRequest)
	}
}

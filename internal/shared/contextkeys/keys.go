package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "mongomirror context key " + string(c)
}

// CollectionKey is the key for the collection id in context.Context
const CollectionKey = contextKey("collection")

// RunIDKey is the key for the migration run id in context.Context
const RunIDKey = contextKey("runID")

// ModeKey is the key for the operational mode (migrate, cdc, verify, update)
const ModeKey = contextKey("mode")

// ComponentKey is the key for the emitting component name
const ComponentKey = contextKey("component")

// OperationKey is the key for the current operation name
const OperationKey = contextKey("operation")

package mandate

import "github.com/xraph/mandate/id"

// ID is the primary identifier type for all Mandate entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

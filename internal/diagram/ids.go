// Package diagram implements the DiPeO domain model: branded
// identifiers and the nodes/arrows/handles/persons that make up a
// DomainDiagram. The format importers that normalize Light YAML /
// Readable YAML / Native JSON into this shape live in the importer
// subpackage, which depends on package handle and would otherwise
// cycle back into this one.
package diagram

// Branded ID types. Equality is string equality; the distinct Go types
// exist purely to stop accidental cross-type mixing at compile time, the
// same role identifiers play across the teacher's models package
// (NodeID/RunID/ArtifactID as distinct uuid.UUID-backed types there;
// DiPeO's ids are opaque strings rather than UUIDs since diagram authors
// assign them).
type (
	NodeID      string
	ArrowID     string
	HandleID    string
	PersonID    string
	ExecutionID string
	DiagramID   string
	ApiKeyID    string
)

func (id NodeID) String() string      { return string(id) }
func (id ArrowID) String() string     { return string(id) }
func (id HandleID) String() string    { return string(id) }
func (id PersonID) String() string    { return string(id) }
func (id ExecutionID) String() string { return string(id) }
func (id DiagramID) String() string   { return string(id) }
func (id ApiKeyID) String() string    { return string(id) }

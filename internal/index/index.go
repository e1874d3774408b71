package index

// ArtifactIndex is the query side of the index. Consumers depend on it
// rather than on *DB.
type ArtifactIndex interface {
	GetArtifact(id string) (*ArtifactRow, error)
	ListByState(state string) ([]ArtifactRow, error)
	Dependents(id string) ([]string, error)
	Blockers(id string) ([]string, error)
	StateCounts() (map[string]int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

var _ ArtifactIndex = (*DB)(nil)

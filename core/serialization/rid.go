package serialization

import "fmt"

// RID identifies a record by cluster and position within the cluster.
type RID struct {
	ClusterID       int32
	ClusterPosition int64
}

// Identifiable is anything that can be resolved to a record identity.
type Identifiable interface {
	Identity() RID
}

func (r RID) Identity() RID { return r }

func (r RID) String() string { return fmt.Sprintf("#%d:%d", r.ClusterID, r.ClusterPosition) }

// CompareRID orders identities by cluster, then position. A nil identity
// sorts before every other.
func CompareRID(a, b Identifiable) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	x, y := a.Identity(), b.Identity()
	switch {
	case x.ClusterID < y.ClusterID:
		return -1
	case x.ClusterID > y.ClusterID:
		return 1
	case x.ClusterPosition < y.ClusterPosition:
		return -1
	case x.ClusterPosition > y.ClusterPosition:
		return 1
	}
	return 0
}

// ParseRID reads the "#cluster:position" form, the leading '#' optional.
func ParseRID(s string) (RID, error) {
	var r RID
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &r.ClusterID, &r.ClusterPosition); err != nil {
		return RID{}, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return r, nil
}

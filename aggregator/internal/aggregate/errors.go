package aggregate

import "errors"

var (
	// ErrNoMembers is returned when an aggregate cluster is configured without member clusters
	ErrNoMembers = errors.New("aggregate cluster needs at least one member cluster")

	// ErrDuplicateMember is returned when a member cluster is listed twice
	ErrDuplicateMember = errors.New("duplicate member cluster")

	// ErrSelfMember is returned when the aggregate cluster lists itself as a member
	ErrSelfMember = errors.New("aggregate cluster cannot be its own member")
)

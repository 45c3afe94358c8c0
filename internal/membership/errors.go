package membership

import "errors"

var (
	ErrJoinFailed  = errors.New("membership: no seed accepted the join")
	ErrNotJoined   = errors.New("membership: node has not joined")
	ErrLeft        = errors.New("membership: node has left the cluster")
	ErrInvalidNode = errors.New("membership: node id and address are required")
)

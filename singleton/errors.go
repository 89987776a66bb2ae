package singleton

import "github.com/go-errors/errors"

var (
	// ErrNotChildOfLatest is raised when AddState's new record's parent
	// doesn't match the current latest_state's coin name.
	ErrNotChildOfLatest = errors.New("new state is not a child of the current latest state")

	// ErrAlreadyExists is raised when AddState is given a coin name
	// already present in the singleton's history.
	ErrAlreadyExists = errors.New("a state with this coin name already exists")
)

package repositories

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

type ErrLeaseHeld struct {
}

func (e *ErrLeaseHeld) Error() string {
	return "lease held"
}

func IsLeaseHeld(err error) bool {
	_, ok := err.(*ErrLeaseHeld)
	return ok
}

type ErrVersionMismatch struct {
}

func (e *ErrVersionMismatch) Error() string {
	return "version mismatch"
}

func IsVersionMismatch(err error) bool {
	_, ok := err.(*ErrVersionMismatch)
	return ok
}

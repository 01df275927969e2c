package p2p

import "errors"

// ErrOperationFailed covers session startup failures: a listener that will
// not bind, or a required seed list that is empty.
var ErrOperationFailed = errors.New("operation failed")

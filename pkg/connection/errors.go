package connection

import "errors"

// ErrInvalidState is returned by Receive, Send, and AwaitConnection when
// called directly while the Connection runs in threaded mode (spec §5): a
// background worker owns the underlying Buffer's sockets there, and the
// caller thread may only drive dispatch through ExecuteQueue and issue
// Enqueue/DisconnectClient/MigrateHost, which cross to the worker through a
// bounded request queue instead of touching the Buffer directly.
var ErrInvalidState = errors.New("connection: operation not valid while running in threaded mode")

package types

// GateError is the error type used across the module. Code is one of the
// constants below; Message is safe to show to callers.
type GateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *GateError) Error() string {
	return e.Message
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// Failure codes.
const (
	// ErrReplayDetected: the transaction hash was already redeemed. Checked
	// before any network call.
	ErrReplayDetected = "REPLAY_DETECTED"

	// ErrProvider: the chain data fetch failed, timed out, or the hash does
	// not resolve to a confirmed transaction.
	ErrProvider = "PROVIDER_ERROR"

	// ErrTxFailed: the transaction resolved but reverted on-chain.
	ErrTxFailed = "TX_FAILED"

	// ErrNoQualifyingTransfer: no log entry matched asset + event +
	// treasury, or the matching transfers summed to zero.
	ErrNoQualifyingTransfer = "NO_QUALIFYING_TRANSFER"

	// ErrAmountTooLow: qualifying transfers summed below the minimum.
	ErrAmountTooLow = "AMOUNT_TOO_LOW"

	// ErrPersistence: the ledger store could not be read or written. Fatal
	// to the requesting operation but never to the process.
	ErrPersistence = "PERSISTENCE_ERROR"
)

// PersistenceError wraps a store failure.
func PersistenceError(msg string, err error) *GateError {
	return &GateError{Code: ErrPersistence, Message: msg, Err: err}
}

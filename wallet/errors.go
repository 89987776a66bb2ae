package wallet

import "github.com/go-errors/errors"

// Sentinel errors for the wallet projection engine. NoKeyForPuzzleHash,
// UnknownWallet and PeerUnavailable are surfaced to callers as-is;
// DBError wraps the underlying storage failure so a caller can still
// errors.Is/As through to it.
var (
	// ErrNoKeyForPuzzleHash is returned by WalletInfoForPuzzleHash for a
	// puzzle hash the derivation index has no record of, and by
	// GetUnusedDerivationRecord when no record is available.
	ErrNoKeyForPuzzleHash = errors.New("no key for puzzle hash")

	// ErrUnknownWallet is returned when an operation references a
	// wallet_id that isn't registered.
	ErrUnknownWallet = errors.New("unknown wallet id")

	// ErrPeerUnavailable is returned by a Network implementation when no
	// peer is available to service a fetch. Callers must drop the
	// individual coin-state update rather than fail the whole batch.
	ErrPeerUnavailable = errors.New("no peer available")

	// ErrOutputLocked is returned when attempting to lock an output that
	// is already locked under a different owner.
	ErrOutputLocked = errors.New("output already locked")

	// ErrWalletExists is returned by AddNewWallet when the wallet id is
	// already registered.
	ErrWalletExists = errors.New("wallet id already registered")
)

// WrapDBError wraps an underlying storage error so it carries a stack trace
// at the point of failure.
func WrapDBError(err error) error {
	if err == nil {
		return nil
	}
	return errors.WrapPrefix(err, "wallet store", 1)
}

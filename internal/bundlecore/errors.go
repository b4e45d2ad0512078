package bundlecore

import "errors"

// Error taxonomy. Per-attempt errors never leave the racer; only budget
// exhaustion and configuration errors reach the caller of Run.
var (
	// ErrDiscovery: asset inventory unreachable or malformed. Fatal before racing.
	ErrDiscovery = errors.New("asset discovery failed")
	// ErrEstimation: gas estimate failed for one transfer, which gets dropped.
	ErrEstimation = errors.New("gas estimation failed")
	// ErrSimulationRevert: the bundle would revert on-chain.
	ErrSimulationRevert = errors.New("bundle simulation reverted")
	// ErrRelay: the relay rejected a submission.
	ErrRelay = errors.New("relay rejected bundle")
	// ErrAttemptBudgetExhausted: maxAttempts rounds passed without inclusion.
	ErrAttemptBudgetExhausted = errors.New("attempt budget exhausted")
	// ErrFatalConfiguration: missing credentials or destination.
	ErrFatalConfiguration = errors.New("fatal configuration error")
	// ErrInsufficientAssets: nothing to sweep, no bundle is built.
	ErrInsufficientAssets = errors.New("insufficient assets: no transfers to bundle")
	// ErrBundleOrder: a sweep would be signed without its funding tx first.
	ErrBundleOrder = errors.New("bundle must start with its funding transaction")
)

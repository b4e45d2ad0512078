package flashbots

import (
	"errors"
	"strings"
)

// ErrSimulationUnsupported is returned when no relay can simulate bundles.
var ErrSimulationUnsupported = errors.New("simulation not supported by relay")

// FriendlyError normalizes common relay errors for readable logs.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	ls := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(ls, "400 bad request") {
		if i := strings.Index(ls, "{"); i > 0 {
			ls = ls[i:]
		}
	}
	switch {
	case strings.Contains(ls, "unsupported: eth_callbundle"), strings.Contains(ls, "invalid method"),
		strings.Contains(ls, "method not found"), strings.Contains(ls, "method not available"),
		strings.Contains(ls, "does not exist"):
		return ErrSimulationUnsupported.Error()
	case strings.Contains(ls, "insufficient funds for gas"):
		return "insufficient ETH for simulation"
	case strings.Contains(ls, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(ls, "dial tcp"), strings.Contains(ls, "lookup "):
		return "network/DNS error"
	}
	return s
}

func isUnsupported(err error) bool {
	return err != nil && FriendlyError(err) == ErrSimulationUnsupported.Error()
}

// isMethodMissing decides whether eth_sendBundle should fall back to mev_sendBundle.
func isMethodMissing(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "method") ||
		strings.Contains(low, "not found") ||
		strings.Contains(low, "unsupported") ||
		strings.Contains(low, "eof")
}

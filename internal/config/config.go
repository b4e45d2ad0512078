package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
	"github.com/ligun0805/bundle-sweeper/internal/flashbots"
)

// Network is a known chain with a public RPC and a bundle relay.
type Network struct {
	Name     string
	ChainID  int64
	RPC      string
	Relay    string
	Explorer string // address page prefix
}

var Networks = []Network{
	{Name: "mainnet", ChainID: 1, RPC: "https://ethereum.publicnode.com", Relay: "https://relay.flashbots.net", Explorer: "https://etherscan.io/address/"},
	{Name: "sepolia", ChainID: 11155111, RPC: "https://1rpc.io/sepolia", Relay: "https://relay-sepolia.flashbots.net", Explorer: "https://sepolia.etherscan.io/address/"},
}

// LookupNetwork accepts a menu number ("1", "2"), a name or a chain id.
func LookupNetwork(s string) (Network, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "eth", "ethereum":
		s = "mainnet"
	case "2", "testnet", "11155111":
		s = "sepolia"
	}
	for _, n := range Networks {
		if n.Name == s {
			return n, true
		}
	}
	return Network{}, false
}

// Settings keeps all configuration options.
type Settings struct {
	Network            string
	RPCURL             string
	ChainID            int64 // 0 = ask the node
	Relays             []string
	FlashbotsAuthPKHex string

	SponsorPrivateKeyHex string
	HackedPrivateKeyHex  string
	SafeWalletAddress    string

	// Contract lists as typed at the prompt; empty means ask.
	ERC20Contracts   string
	ERC721Contracts  string
	AirdropContracts string

	MaxAttempts         int
	ParallelBundles     int
	InitialFeeBoostGwei int64
	FeeStepGwei         int64
	FeeStepMode         string // halving | linear
	MaxFeeBoostGwei     int64  // 0 = uncapped
	BasefeeMul          int64

	SimulateFirst     bool
	SimulateEachRound bool
	RestrictionProbes bool
	DiscoveryParallel int

	LogLevel          string
	NetcheckBlocks    int
	NetcheckPcts      []int
	PollInterval      time.Duration
	ResolutionTimeout time.Duration
	DrainTimeout      time.Duration
	RefreshTimeout    time.Duration
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
// Network defaults are not applied; see ApplyNetwork.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
			if v := strings.TrimSpace(os.Getenv(strings.ToLower(k))); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		if n, err := strconv.Atoi(get(keys, "")); err == nil {
			return n
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		if n, err := strconv.ParseInt(get(keys, ""), 10, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}
	getSeconds := func(keys []string, def int) time.Duration {
		return time.Duration(getInt(keys, def)) * time.Second
	}

	st := Settings{}
	st.Network = get([]string{"NETWORK"}, "")
	st.RPCURL = get([]string{"RPC_URL"}, "")
	st.ChainID = getInt64([]string{"CHAIN_ID"}, 0)
	st.Relays = SplitCSV(get([]string{"RELAYS"}, ""))
	st.FlashbotsAuthPKHex = get([]string{"FLASHBOTS_AUTH_PK"}, "")

	st.SponsorPrivateKeyHex = get([]string{"PRIVATE_KEY_SPONSOR", "SAFE_PRIVATE_KEY"}, "")
	st.HackedPrivateKeyHex = get([]string{"PRIVATE_KEY_HACKED", "FROM_PRIVATE_KEY"}, "")
	st.SafeWalletAddress = get([]string{"SAFE_WALLET_ADDRESS"}, "")
	st.ERC20Contracts = get([]string{"ERC20_CONTRACTS", "TOKEN_CONTRACTS"}, "")
	st.ERC721Contracts = get([]string{"ERC721_CONTRACTS", "NFT_CONTRACTS"}, "")
	st.AirdropContracts = get([]string{"AIRDROP_CONTRACTS"}, "")

	st.MaxAttempts = getInt([]string{"MAX_ATTEMPTS"}, 30)
	st.ParallelBundles = getInt([]string{"PARALLEL_BUNDLES"}, 1)
	st.InitialFeeBoostGwei = getInt64([]string{"INITIAL_FEE_BOOST_GWEI"}, 3)
	st.FeeStepGwei = getInt64([]string{"FEE_STEP_GWEI"}, 1)
	st.FeeStepMode = strings.ToLower(get([]string{"FEE_STEP_MODE"}, "halving"))
	st.MaxFeeBoostGwei = getInt64([]string{"MAX_FEE_BOOST_GWEI"}, 0)
	st.BasefeeMul = getInt64([]string{"BASEFEE_MUL", "BASE_MUL"}, 2)

	st.SimulateFirst = getBool([]string{"SIMULATE_FIRST"}, true)
	st.SimulateEachRound = getBool([]string{"SIMULATE_EACH_ROUND"}, false)
	st.RestrictionProbes = getBool([]string{"RESTRICTION_PROBES"}, true)
	st.DiscoveryParallel = getInt([]string{"DISCOVERY_PARALLEL"}, 8)

	st.LogLevel = get([]string{"LOG_LEVEL"}, "info")
	st.NetcheckBlocks = getInt([]string{"NETCHECK_BLOCKS"}, 20)
	st.NetcheckPcts = ParseCSVInts(get([]string{"NETCHECK_PCTS"}, ""), []int{50, 95, 99})
	st.PollInterval = time.Duration(getInt([]string{"POLL_INTERVAL_MS"}, 2000)) * time.Millisecond
	st.ResolutionTimeout = getSeconds([]string{"RESOLUTION_TIMEOUT_SEC"}, 60)
	st.DrainTimeout = getSeconds([]string{"DRAIN_TIMEOUT_SEC"}, 30)
	st.RefreshTimeout = getSeconds([]string{"REFRESH_TIMEOUT_SEC"}, 5)
	return st
}

// ApplyNetwork fills RPC, chain id and relays that were not set explicitly.
func (s *Settings) ApplyNetwork(n Network) {
	s.Network = n.Name
	if s.RPCURL == "" {
		s.RPCURL = n.RPC
	}
	if s.ChainID == 0 {
		s.ChainID = n.ChainID
	}
	if len(s.Relays) == 0 {
		s.Relays = []string{n.Relay}
	}
}

// Validate reports every problem at once, wrapped in ErrFatalConfiguration.
// Messages never echo key material.
func (s Settings) Validate() error {
	var errs []error
	bad := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	if s.RPCURL == "" {
		bad("RPC_URL is empty")
	}
	if len(s.Relays) == 0 {
		bad("RELAYS is empty")
	}
	for _, r := range s.Relays {
		if _, _, err := flashbots.ParseRelay(r); err != nil {
			bad("RELAYS: %v", err)
		}
	}
	sponsor, err := core.ParsePrivateKey(s.SponsorPrivateKeyHex)
	if err != nil {
		bad("PRIVATE_KEY_SPONSOR is missing or invalid")
	}
	hacked, err2 := core.ParsePrivateKey(s.HackedPrivateKeyHex)
	if err2 != nil {
		bad("PRIVATE_KEY_HACKED is missing or invalid")
	}
	if err == nil && err2 == nil && sponsor.D.Cmp(hacked.D) == 0 {
		bad("sponsor and compromised keys must differ")
	}
	if !common.IsHexAddress(s.SafeWalletAddress) {
		bad("SAFE_WALLET_ADDRESS is missing or invalid")
	} else if common.HexToAddress(s.SafeWalletAddress) == (common.Address{}) {
		bad("SAFE_WALLET_ADDRESS is the zero address")
	}
	if s.ChainID < 0 {
		bad("CHAIN_ID must be positive")
	}
	if s.MaxAttempts <= 0 {
		bad("MAX_ATTEMPTS must be > 0")
	}
	if s.ParallelBundles <= 0 {
		bad("PARALLEL_BUNDLES must be > 0")
	}
	if s.InitialFeeBoostGwei < 0 || s.FeeStepGwei < 0 || s.MaxFeeBoostGwei < 0 {
		bad("fee boosts must not be negative")
	}
	if s.FeeStepMode != "halving" && s.FeeStepMode != "linear" {
		bad("FEE_STEP_MODE must be halving or linear, got %q", s.FeeStepMode)
	}
	if s.BasefeeMul <= 0 {
		bad("BASEFEE_MUL must be > 0")
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		bad("LOG_LEVEL: %v", err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrFatalConfiguration, errors.Join(errs...))
}

// Policy maps the fee settings onto an escalation policy.
func (s Settings) Policy() core.EscalationPolicy {
	step := core.HalvingStep(core.GweiToWei(s.FeeStepGwei))
	if s.FeeStepMode == "linear" {
		step = core.LinearStep(core.GweiToWei(s.FeeStepGwei))
	}
	p := core.EscalationPolicy{InitialBoost: core.GweiToWei(s.InitialFeeBoostGwei), Step: step}
	if s.MaxFeeBoostGwei > 0 {
		p.MaxBoost = core.GweiToWei(s.MaxFeeBoostGwei)
	}
	return p
}

func (s Settings) Destination() common.Address {
	return common.HexToAddress(s.SafeWalletAddress)
}

// SplitCSV splits "a, b,,c" into non-empty trimmed parts.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseCSVInts parses "a,b,c" into []int with defaults if empty/bad.
func ParseCSVInts(s string, def []int) []int {
	out := []int{}
	for _, p := range SplitCSV(s) {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

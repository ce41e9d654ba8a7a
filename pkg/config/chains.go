package config

import (
	"sort"

	"github.com/speedrun-hq/vault-depositor/pkg/chains"
)

// defaultRPCURLs maps chain IDs to public RPC endpoints
var defaultRPCURLs = map[int]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.bnbchain.org",
	100:   "https://rpc.gnosischain.com",
	137:   "https://polygon-rpc.com",
	7000:  "https://zetachain-evm.blockpi.network/v1/rpc/public",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://avalanche-c-chain-rpc.publicnode.com",
}

// defaultRouterAddresses maps chain IDs to deployed deposit routers.
// Chains without an entry can only act as a source chain unless configured.
var defaultRouterAddresses = map[int]string{}

// GetChainName returns the environment prefix of a chain
func GetChainName(chainID int) string {
	return chains.GetChainName(chainID)
}

func supportedChainIDs() []int {
	ids := make([]int, 0, len(defaultRPCURLs))
	for chainID := range defaultRPCURLs {
		ids = append(ids, chainID)
	}
	sort.Ints(ids)
	return ids
}

package chains

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainList contains the list of supported chain IDs
var ChainList = []int{
	1,     // Ethereum
	10,    // Optimism
	56,    // Binance Smart Chain
	100,   // Gnosis
	137,   // Polygon
	7000,  // ZetaChain
	8453,  // Base
	42161, // Arbitrum
	43114, // Avalanche
}

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	1:     "ETHEREUM",
	10:    "OPTIMISM",
	56:    "BSC",
	100:   "GNOSIS",
	137:   "POLYGON",
	7000:  "ZETACHAIN",
	8453:  "BASE",
	42161: "ARBITRUM",
	43114: "AVALANCHE",
}

// explorers maps chain IDs to their block explorer base URL
var explorers = map[int]string{
	1:     "https://etherscan.io",
	10:    "https://optimistic.etherscan.io",
	56:    "https://bscscan.com",
	100:   "https://gnosisscan.io",
	137:   "https://polygonscan.com",
	7000:  "https://explorer.zetachain.com",
	8453:  "https://basescan.org",
	42161: "https://arbiscan.io",
	43114: "https://snowtrace.io",
}

// BridgeExplorerURL is the base URL of the bridge aggregator explorer
const BridgeExplorerURL = "https://scan.li.fi"

// NativeTokenAddress is the placeholder address aggregators use for a chain's gas token
var NativeTokenAddress = common.Address{}

// altNativeTokenAddress is the 0xEeee... placeholder some routes use instead of the zero address
var altNativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return ""
	}
	return name
}

// IsSupported reports whether the chain ID is known
func IsSupported(chainID int) bool {
	_, ok := chainNames[chainID]
	return ok
}

// TxURL returns the explorer link for a transaction on a chain, or an empty string for unknown chains
func TxURL(chainID int, txHash string) string {
	base, ok := explorers[chainID]
	if !ok || txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", base, txHash)
}

// BridgeTxURL returns the bridge explorer link for a source-chain bridge transaction
func BridgeTxURL(txHash string) string {
	if txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", BridgeExplorerURL, txHash)
}

// IsNativeToken reports whether the address denotes the chain's gas token
func IsNativeToken(token common.Address) bool {
	return token == NativeTokenAddress || token == altNativeTokenAddress
}

// SameToken compares two token addresses treating both native placeholders as equal
func SameToken(a, b common.Address) bool {
	if IsNativeToken(a) && IsNativeToken(b) {
		return true
	}
	return strings.EqualFold(a.Hex(), b.Hex())
}

// FormatUnits renders a base-unit amount as a human readable decimal string
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a human readable amount into base units, truncating extra precision
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %v", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", amount)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

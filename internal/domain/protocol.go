// Package domain is the single source of truth for protocol-specific
// constants: the closed Protocol enumeration, instruction discriminators,
// PDA seed prefixes, and fee parameters. Following the
// teacher's internal/config convention, ALL hardcoded DEX-protocol values
// live here -- no protocol constant should be duplicated in a builder.
package domain

// Protocol is the closed enumeration of DEX variants this engine
// recognizes and can build a follower swap against (spec §3).
type Protocol string

const (
	BondingCurve             Protocol = "bonding_curve"
	ConstantProductAmm       Protocol = "constant_product_amm"
	ConcentratedLiquidityAmm Protocol = "concentrated_liquidity_amm"
	ConstantProductAmmV2     Protocol = "constant_product_amm_v2"
	LaunchpadCurve           Protocol = "launchpad_curve"
	BinLiquidityAmm          Protocol = "bin_liquidity_amm"
	DynamicBondingCurve      Protocol = "dynamic_bonding_curve"
	DynamicCpAmm             Protocol = "dynamic_cp_amm"
	RouterAggregator         Protocol = "router_aggregator"
	ExternalAggregator       Protocol = "external_aggregator"
)

// AllProtocols enumerates every supported variant, in registry
// registration/tie-break priority order: native protocols before the
// router/aggregator fallbacks (§4.2 step 2).
var AllProtocols = []Protocol{
	BondingCurve,
	ConstantProductAmm,
	ConcentratedLiquidityAmm,
	ConstantProductAmmV2,
	LaunchpadCurve,
	BinLiquidityAmm,
	DynamicBondingCurve,
	DynamicCpAmm,
	RouterAggregator,
	ExternalAggregator,
}

// IsNative reports whether a protocol is a native DEX program match as
// opposed to a router/aggregator fallback -- used by the analyzer's
// native-over-aggregator tie-break (§4.2 step 2).
func (p Protocol) IsNative() bool {
	switch p {
	case RouterAggregator, ExternalAggregator:
		return false
	default:
		return true
	}
}

func (p Protocol) String() string { return string(p) }

// Direction is the side of a recognized swap relative to the pool's
// canonical base/quote ordering.
type Direction string

const (
	Buy  Direction = "buy"  // quote -> base
	Sell Direction = "sell" // base -> quote
)

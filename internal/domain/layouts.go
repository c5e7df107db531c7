package domain

import (
	"fmt"

	"github.com/copytrade/engine/internal/solwire"
)

// Discriminators. Each is the literal 8-byte (or 1-byte, for the legacy
// opcode-based programs) instruction tag documented in spec §6.
var (
	DiscBondingCurveSwap   = [8]byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
	DiscConcentratedSwapV2 = [8]byte{0x2b, 0x04, 0xed, 0x0b, 0x1a, 0xc9, 0x1e, 0x62}
	DiscCPMMSwapBaseIn     = [8]byte{0x8f, 0xbe, 0x5a, 0xda, 0xc4, 0x1e, 0x33, 0xde}
	DiscLaunchpadBuyExactIn  = [8]byte{0xfa, 0xea, 0x0d, 0x7b, 0xd5, 0x9c, 0x13, 0xec}
	DiscLaunchpadSellExactIn = [8]byte{0x95, 0x27, 0xde, 0x9b, 0xd3, 0x7c, 0x98, 0x1a}
	DiscDBCSwap              = [8]byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8}
	DiscCPAmmSwap            = [8]byte{0xf8, 0x29, 0xc4, 0x6f, 0xfb, 0x2f, 0xbd, 0x27}

	// ConstantProductAmm (V1, "pooled") uses a single-byte opcode rather
	// than an 8-byte Anchor discriminator.
	OpcodeConstantProductAmmSwapBaseIn byte = 9
)

// Fixed instruction data lengths, documented bit-exact in spec §6.
const (
	LenBondingCurveSwap   = 24 // disc(8) + amount_or_zero(8) + bound(8)
	LenConstantProductAmm = 17 // opcode(1) + amount_in(8) + min_out(8)
	LenCPMMSwapBaseIn     = 24 // disc(8) + amount_in(8) + min_out(8)
	LenConcentratedSwapV2 = 33 // disc(8) + amount(8) + other_threshold(8) + sqrt_price_limit_lo(8) + is_base_input(1)
	LenLaunchpadExactIn   = 32 // disc(8) + amount_in(8) + min_out(8) + share_fee_rate(8)
)

// PDA seed prefixes of the native protocols' program-derived accounts.
// No code in this module derives these PDAs.
var (
	SeedBondingCurve      = []byte("bonding-curve")
	SeedPoolVault         = []byte("pool-vault")
	SeedCreatorVault      = []byte("creator-vault")
	SeedPlatformVault     = []byte("platform-vault")
	SeedLaunchpadAuthority = []byte("pool_authority")
	SeedLaunchpadEventAuth = []byte("__event_authority")
)

// FeeTier captures the protocol/LP/creator fee split, expressed in basis
// points of the quoted output amount, used by ConstantProductAmm's quote
// math.
type FeeTier struct {
	ProtocolBps uint32
	LPBps       uint32
	CreatorBps  uint32
}

// TotalBps is the combined fee taken from the constant-product formula's
// output before slippage is applied.
func (f FeeTier) TotalBps() uint32 {
	return f.ProtocolBps + f.LPBps + f.CreatorBps
}

// DefaultConstantProductAmmFee is the 25 bps fee used in seed scenario 2.
var DefaultConstantProductAmmFee = FeeTier{ProtocolBps: 10, LPBps: 10, CreatorBps: 5}

// FeeTierFor returns the fee tier a builder should assume for protocol
// when the Pool State Cache hasn't cached a pool-specific override yet.
// Every constant-product-family protocol defaults to the same
// documented split until per-pool fee accounts are parsed.
func FeeTierFor(protocol Protocol) FeeTier {
	return DefaultConstantProductAmmFee
}

const BpsDenominator = 10_000

// EncodeBondingCurveSwap encodes the 24-byte bonding-curve swap payload
// (spec §6). Buys pass amount=0 (max-cost semantics) and bound=maxCost;
// sells pass amount=tokenAmount and bound=minOut.
func EncodeBondingCurveSwap(amountOrZero, bound uint64) []byte {
	out := make([]byte, 0, LenBondingCurveSwap)
	out = append(out, DiscBondingCurveSwap[:]...)
	out = append(out, solwire.LE64(amountOrZero)...)
	out = append(out, solwire.LE64(bound)...)
	return out
}

// DecodeBondingCurveSwap is the inverse of EncodeBondingCurveSwap, used by
// byte-layout round-trip tests and by the analyzer's cross-check path.
func DecodeBondingCurveSwap(data []byte) (amountOrZero, bound uint64, err error) {
	if len(data) != LenBondingCurveSwap {
		return 0, 0, fmt.Errorf("domain: bonding-curve payload wrong length: %d", len(data))
	}
	amountOrZero, err = solwire.ReadLE64(data, 8)
	if err != nil {
		return 0, 0, err
	}
	bound, err = solwire.ReadLE64(data, 16)
	return amountOrZero, bound, err
}

// EncodeConstantProductAmmSwap encodes the 17-byte V1 swap-base-in payload.
func EncodeConstantProductAmmSwap(amountIn, minOut uint64) []byte {
	out := make([]byte, 0, LenConstantProductAmm)
	out = append(out, OpcodeConstantProductAmmSwapBaseIn)
	out = append(out, solwire.LE64(amountIn)...)
	out = append(out, solwire.LE64(minOut)...)
	return out
}

func DecodeConstantProductAmmSwap(data []byte) (amountIn, minOut uint64, err error) {
	if len(data) != LenConstantProductAmm {
		return 0, 0, fmt.Errorf("domain: constant-product-amm payload wrong length: %d", len(data))
	}
	if data[0] != OpcodeConstantProductAmmSwapBaseIn {
		return 0, 0, fmt.Errorf("domain: unexpected opcode %d", data[0])
	}
	amountIn, err = solwire.ReadLE64(data, 1)
	if err != nil {
		return 0, 0, err
	}
	minOut, err = solwire.ReadLE64(data, 9)
	return amountIn, minOut, err
}

// EncodeCPMMSwapBaseIn encodes the 24-byte ConstantProductAmmV2 (CPMM)
// swap-base-in payload.
func EncodeCPMMSwapBaseIn(amountIn, minOut uint64) []byte {
	out := make([]byte, 0, LenCPMMSwapBaseIn)
	out = append(out, DiscCPMMSwapBaseIn[:]...)
	out = append(out, solwire.LE64(amountIn)...)
	out = append(out, solwire.LE64(minOut)...)
	return out
}

func DecodeCPMMSwapBaseIn(data []byte) (amountIn, minOut uint64, err error) {
	if len(data) != LenCPMMSwapBaseIn {
		return 0, 0, fmt.Errorf("domain: cpmm payload wrong length: %d", len(data))
	}
	amountIn, err = solwire.ReadLE64(data, 8)
	if err != nil {
		return 0, 0, err
	}
	minOut, err = solwire.ReadLE64(data, 16)
	return amountIn, minOut, err
}

// EncodeConcentratedSwapV2 encodes the 33-byte concentrated-liquidity
// swap-v2 payload.
func EncodeConcentratedSwapV2(amount, otherThreshold, sqrtPriceLimitLo uint64, isBaseInput bool) []byte {
	out := make([]byte, 0, LenConcentratedSwapV2)
	out = append(out, DiscConcentratedSwapV2[:]...)
	out = append(out, solwire.LE64(amount)...)
	out = append(out, solwire.LE64(otherThreshold)...)
	out = append(out, solwire.LE64(sqrtPriceLimitLo)...)
	if isBaseInput {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func DecodeConcentratedSwapV2(data []byte) (amount, otherThreshold, sqrtPriceLimitLo uint64, isBaseInput bool, err error) {
	if len(data) != LenConcentratedSwapV2 {
		return 0, 0, 0, false, fmt.Errorf("domain: concentrated-swap-v2 payload wrong length: %d", len(data))
	}
	amount, err = solwire.ReadLE64(data, 8)
	if err != nil {
		return
	}
	otherThreshold, err = solwire.ReadLE64(data, 16)
	if err != nil {
		return
	}
	sqrtPriceLimitLo, err = solwire.ReadLE64(data, 24)
	if err != nil {
		return
	}
	isBaseInput = data[32] != 0
	return
}

// EncodeLaunchpadExactIn encodes the 32-byte buy/sell-exact-in payload
// shared by both directions; the discriminator distinguishes them.
func EncodeLaunchpadExactIn(disc [8]byte, amountIn, minOut, shareFeeRate uint64) []byte {
	out := make([]byte, 0, LenLaunchpadExactIn)
	out = append(out, disc[:]...)
	out = append(out, solwire.LE64(amountIn)...)
	out = append(out, solwire.LE64(minOut)...)
	out = append(out, solwire.LE64(shareFeeRate)...)
	return out
}

func DecodeLaunchpadExactIn(data []byte) (disc [8]byte, amountIn, minOut, shareFeeRate uint64, err error) {
	if len(data) != LenLaunchpadExactIn {
		return disc, 0, 0, 0, fmt.Errorf("domain: launchpad payload wrong length: %d", len(data))
	}
	copy(disc[:], data[:8])
	amountIn, err = solwire.ReadLE64(data, 8)
	if err != nil {
		return
	}
	minOut, err = solwire.ReadLE64(data, 16)
	if err != nil {
		return
	}
	shareFeeRate, err = solwire.ReadLE64(data, 24)
	return
}

package model

import (
	"encoding/binary"
	"time"

	"github.com/copytrade/engine/internal/domain"
	"github.com/copytrade/engine/internal/solwire"
)

// PoolCacheKey identifies one cached pool (spec §4.4).
type PoolCacheKey struct {
	Protocol domain.Protocol
	Pool     solwire.Pubkey
}

// PoolCacheEntry is a memoized protocol-specific pool/config snapshot
// (spec §3, §4.4).
type PoolCacheEntry struct {
	Key PoolCacheKey

	// StaticLayout holds account metadata that almost never changes
	// (decimals, vault addresses, authority bump) and is only refreshed
	// on an explicit cache miss.
	StaticLayout map[string][]byte

	// DynamicState holds live reserves/tick-array/price data and is
	// subject to the TTL below.
	DynamicState map[string][]byte

	FetchedAt time.Time
	TTL       time.Duration
	LastRead  time.Time
}

// Expired reports whether the entry's dynamic state has outlived its TTL.
func (e *PoolCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// DynamicState keys a constant-product quote needs: the pool's live
// reserves, its fee tier, and the token-program variant (classic or 2022)
// its vaults are owned by.
const (
	keyReserveBase  = "reserve_base"
	keyReserveQuote = "reserve_quote"
	keyFeeTier      = "fee_tier" // protocol_bps(4) || lp_bps(4) || creator_bps(4), LE
	keyTokenProgram = "token_program"
)

func (e *PoolCacheEntry) ensureDynamicState() {
	if e.DynamicState == nil {
		e.DynamicState = make(map[string][]byte)
	}
}

// SetReserves records the pool's live base/quote reserves, as read from
// its vault token accounts.
func (e *PoolCacheEntry) SetReserves(base, quote uint64) {
	e.ensureDynamicState()
	e.DynamicState[keyReserveBase] = solwire.LE64(base)
	e.DynamicState[keyReserveQuote] = solwire.LE64(quote)
}

// Reserves returns the pool's live base/quote reserves, ok false if
// either was never recorded.
func (e *PoolCacheEntry) Reserves() (base, quote uint64, ok bool) {
	b, okB := e.DynamicState[keyReserveBase]
	q, okQ := e.DynamicState[keyReserveQuote]
	if !okB || !okQ || len(b) != 8 || len(q) != 8 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(b), binary.LittleEndian.Uint64(q), true
}

// SetFeeTier records the pool's protocol/LP/creator fee split.
func (e *PoolCacheEntry) SetFeeTier(f domain.FeeTier) {
	e.ensureDynamicState()
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], f.ProtocolBps)
	binary.LittleEndian.PutUint32(buf[4:8], f.LPBps)
	binary.LittleEndian.PutUint32(buf[8:12], f.CreatorBps)
	e.DynamicState[keyFeeTier] = buf
}

// FeeTier returns the pool's recorded fee split, ok false if never set.
func (e *PoolCacheEntry) FeeTier() (domain.FeeTier, bool) {
	buf, found := e.DynamicState[keyFeeTier]
	if !found || len(buf) != 12 {
		return domain.FeeTier{}, false
	}
	return domain.FeeTier{
		ProtocolBps: binary.LittleEndian.Uint32(buf[0:4]),
		LPBps:       binary.LittleEndian.Uint32(buf[4:8]),
		CreatorBps:  binary.LittleEndian.Uint32(buf[8:12]),
	}, true
}

// SetTokenProgram records which token-program variant owns the pool's
// vaults (spec §4.3's DynamicCpAmm "classic or 2022 token program").
func (e *PoolCacheEntry) SetTokenProgram(program solwire.Pubkey) {
	e.ensureDynamicState()
	e.DynamicState[keyTokenProgram] = append([]byte(nil), program[:]...)
}

// TokenProgram returns the recorded token-program variant, ok false if
// never set.
func (e *PoolCacheEntry) TokenProgram() (solwire.Pubkey, bool) {
	buf, found := e.DynamicState[keyTokenProgram]
	if !found || len(buf) != solwire.PubkeyLen {
		return solwire.Pubkey{}, false
	}
	var program solwire.Pubkey
	copy(program[:], buf)
	return program, true
}

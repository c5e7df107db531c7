package executor

import (
	"context"
	"encoding/binary"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

// splTokenAccountAmountOffset is the byte offset of the `amount` u64
// field inside an SPL Token program token-account (mint[32] + owner[32]
// precede it).
const splTokenAccountAmountOffset = 64

// ChainPositionReader reads a follower's current token holding directly
// from its associated token account via Chain RPC, implementing
// PositionReader for sell-side amount scaling (spec §4.5).
type ChainPositionReader struct {
	rpc ports.ChainRPC
}

// NewChainPositionReader constructs a ChainPositionReader over the given
// Chain RPC client.
func NewChainPositionReader(rpc ports.ChainRPC) *ChainPositionReader {
	return &ChainPositionReader{rpc: rpc}
}

// HoldingOf returns the follower's current balance of mint, derived from
// its associated token account. ok is false if the account does not
// exist (no position yet) or its data is too short to decode.
func (r *ChainPositionReader) HoldingOf(ctx context.Context, wallet, mint solwire.Pubkey) (uint64, bool, error) {
	ata := solwire.DeriveAssociatedTokenAccount(chainparams.AssociatedTokenProgram, chainparams.TokenProgram, wallet, mint)
	infos, err := r.rpc.GetAccountInfos(ctx, []solwire.Pubkey{ata}, chainparams.CommitmentConfirmed)
	if err != nil {
		return 0, false, err
	}
	if len(infos) == 0 || infos[0] == nil {
		return 0, false, nil
	}
	data := infos[0].Data
	if len(data) < splTokenAccountAmountOffset+8 {
		return 0, false, nil
	}
	return binary.LittleEndian.Uint64(data[splTokenAccountAmountOffset : splTokenAccountAmountOffset+8]), true, nil
}

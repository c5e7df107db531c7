package solwire

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// TokenBalance mirrors one entry of `meta.preTokenBalances` /
// `meta.postTokenBalances` from a `json`-encoded confirmed transaction.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"` // raw units, as a decimal string
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// LoadedAddresses carries the writable/readonly accounts the cluster
// resolved for this transaction through its address-table lookups --
// present on `meta` for v0 transactions.
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

type rawInstructionJSON struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"` // base58
}

type rawMessageJSON struct {
	Header struct {
		NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
		NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
		NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
	} `json:"header"`
	AccountKeys         []string              `json:"accountKeys"`
	RecentBlockhash     string                `json:"recentBlockhash"`
	Instructions        []rawInstructionJSON  `json:"instructions"`
	AddressTableLookups []addressLookupJSON   `json:"addressTableLookups"`
}

type addressLookupJSON struct {
	AccountKey      string `json:"accountKey"`
	WritableIndexes []int  `json:"writableIndexes"`
	ReadonlyIndexes []int  `json:"readonlyIndexes"`
}

type innerInstructionGroupJSON struct {
	Index        int                  `json:"index"`
	Instructions []rawInstructionJSON `json:"instructions"`
}

type metaJSON struct {
	Err               json.RawMessage             `json:"err"`
	Fee               uint64                      `json:"fee"`
	PreBalances       []uint64                    `json:"preBalances"`
	PostBalances      []uint64                    `json:"postBalances"`
	PreTokenBalances  []TokenBalance              `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance              `json:"postTokenBalances"`
	InnerInstructions []innerInstructionGroupJSON `json:"innerInstructions"`
	LoadedAddresses   LoadedAddresses             `json:"loadedAddresses"`
	LogMessages       []string                    `json:"logMessages"`
}

type transactionJSON struct {
	Signatures []string       `json:"signatures"`
	Message    rawMessageJSON `json:"message"`
}

type getTransactionResultJSON struct {
	Slot        uint64          `json:"slot"`
	BlockTime   *int64          `json:"blockTime"`
	Transaction transactionJSON `json:"transaction"`
	Meta        metaJSON        `json:"meta"`
	Version     json.RawMessage `json:"version"`
}

// InnerInstructionGroup groups CPI instructions by the index of the outer
// instruction that invoked them.
type InnerInstructionGroup struct {
	Index        int
	Instructions []CompiledInstruction
}

// RawTransaction is the decoded form of a confirmed transaction as
// returned by Chain RPC's get_transaction(encoding=json,
// max_supported_version=0): everything the Transaction Analyzer needs to
// classify a swap and extract balance deltas, with address-table
// references still unresolved (see ResolvedAccounts).
type RawTransaction struct {
	Slot              uint64
	BlockTime         int64
	Signatures        []Signature
	Message           *Message
	InnerInstructions []InnerInstructionGroup
	Failed            bool
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LoadedWritable    []Pubkey
	LoadedReadonly    []Pubkey
	LogMessages       []string
}

// MasterSignature returns the transaction's primary (fee-payer) signature,
// used as SwapIntent.master_signature.
func (r *RawTransaction) MasterSignature() Signature {
	if len(r.Signatures) == 0 {
		return Signature{}
	}
	return r.Signatures[0]
}

// DecodeRawTransaction parses the JSON body of a `json`-encoded
// get_transaction response into a RawTransaction.
func DecodeRawTransaction(body []byte) (*RawTransaction, error) {
	var parsed getTransactionResultJSON
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("solwire: decode transaction: %w", err)
	}
	return fromJSON(&parsed)
}

func fromJSON(parsed *getTransactionResultJSON) (*RawTransaction, error) {
	msg, err := decodeMessageJSON(&parsed.Transaction.Message)
	if err != nil {
		return nil, err
	}

	sigs := make([]Signature, 0, len(parsed.Transaction.Signatures))
	for _, s := range parsed.Transaction.Signatures {
		sig, err := SignatureFromBase58(s)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}

	inner := make([]InnerInstructionGroup, 0, len(parsed.Meta.InnerInstructions))
	for _, group := range parsed.Meta.InnerInstructions {
		instrs, err := decodeCompiledInstructions(group.Instructions)
		if err != nil {
			return nil, err
		}
		inner = append(inner, InnerInstructionGroup{Index: group.Index, Instructions: instrs})
	}

	loadedWritable, err := decodePubkeys(parsed.Meta.LoadedAddresses.Writable)
	if err != nil {
		return nil, err
	}
	loadedReadonly, err := decodePubkeys(parsed.Meta.LoadedAddresses.Readonly)
	if err != nil {
		return nil, err
	}

	var blockTime int64
	if parsed.BlockTime != nil {
		blockTime = *parsed.BlockTime
	}

	return &RawTransaction{
		Slot:              parsed.Slot,
		BlockTime:         blockTime,
		Signatures:        sigs,
		Message:           msg,
		InnerInstructions: inner,
		Failed:            len(parsed.Meta.Err) > 0 && string(parsed.Meta.Err) != "null",
		Fee:               parsed.Meta.Fee,
		PreBalances:       parsed.Meta.PreBalances,
		PostBalances:      parsed.Meta.PostBalances,
		PreTokenBalances:  parsed.Meta.PreTokenBalances,
		PostTokenBalances: parsed.Meta.PostTokenBalances,
		LoadedWritable:    loadedWritable,
		LoadedReadonly:    loadedReadonly,
		LogMessages:       parsed.Meta.LogMessages,
	}, nil
}

func decodeMessageJSON(m *rawMessageJSON) (*Message, error) {
	keys, err := decodePubkeys(m.AccountKeys)
	if err != nil {
		return nil, err
	}

	var blockhash [32]byte
	if m.RecentBlockhash != "" {
		b, err := base58.Decode(m.RecentBlockhash)
		if err != nil {
			return nil, fmt.Errorf("solwire: decode recent blockhash: %w", err)
		}
		copy(blockhash[:], b)
	}

	instrs, err := decodeCompiledInstructions(m.Instructions)
	if err != nil {
		return nil, err
	}

	lookups := make([]AddressTableLookup, 0, len(m.AddressTableLookups))
	for _, l := range m.AddressTableLookups {
		key, err := PubkeyFromBase58(l.AccountKey)
		if err != nil {
			return nil, err
		}
		lookups = append(lookups, AddressTableLookup{
			AccountKey:      key,
			WritableIndexes: toUint8Slice(l.WritableIndexes),
			ReadonlyIndexes: toUint8Slice(l.ReadonlyIndexes),
		})
	}

	return &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       m.Header.NumRequiredSignatures,
			NumReadonlySignedAccounts:   m.Header.NumReadonlySignedAccounts,
			NumReadonlyUnsignedAccounts: m.Header.NumReadonlyUnsignedAccounts,
		},
		AccountKeys:         keys,
		RecentBlockhash:     blockhash,
		Instructions:        instrs,
		AddressTableLookups: lookups,
		IsVersioned:         len(lookups) > 0,
	}, nil
}

func decodeCompiledInstructions(in []rawInstructionJSON) ([]CompiledInstruction, error) {
	out := make([]CompiledInstruction, 0, len(in))
	for _, ri := range in {
		data, err := base58.Decode(ri.Data)
		if err != nil {
			return nil, fmt.Errorf("solwire: decode instruction data: %w", err)
		}
		out = append(out, CompiledInstruction{
			ProgramIDIndex: uint8(ri.ProgramIDIndex),
			Accounts:       toUint8Slice(ri.Accounts),
			Data:           data,
		})
	}
	return out, nil
}

func decodePubkeys(ss []string) ([]Pubkey, error) {
	out := make([]Pubkey, 0, len(ss))
	for _, s := range ss {
		pk, err := PubkeyFromBase58(s)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}

func toUint8Slice(in []int) []uint8 {
	out := make([]uint8, len(in))
	for i, v := range in {
		out[i] = uint8(v)
	}
	return out
}

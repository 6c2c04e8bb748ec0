package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"escrowchain/crypto"
	"escrowchain/native/token"
)

// GenesisSpec describes the initial ledger contents: registered mints, native
// balances used for account deposits and initial token holdings.
type GenesisSpec struct {
	GenesisTime string                       `json:"genesisTime"`
	ChainID     uint64                       `json:"chainId"`
	Mints       []MintSpec                   `json:"mints"`
	Native      map[string]string            `json:"native"` // addr -> amount
	Tokens      map[string]map[string]string `json:"tokens"` // addr -> symbol -> amount

	genesisTimestamp time.Time
	native           []NativeAlloc
	tokens           []TokenAlloc
	mints            []ResolvedMint
}

// MintSpec declares a mint registered at genesis.
type MintSpec struct {
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Authority string `json:"authority"`
}

// ResolvedMint is a validated MintSpec.
type ResolvedMint struct {
	Symbol    string
	Decimals  uint8
	Authority [20]byte
}

// NativeAlloc is a validated native balance allocation.
type NativeAlloc struct {
	Address [20]byte
	Amount  uint64
}

// TokenAlloc is a validated token balance allocation.
type TokenAlloc struct {
	Owner  [20]byte
	Symbol string
	Amount uint64
}

// LoadGenesisSpec reads and validates the JSON genesis file at path.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// GenesisTimestamp returns the parsed genesis time.
func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// ResolvedMints returns the validated mints sorted by symbol.
func (s *GenesisSpec) ResolvedMints() []ResolvedMint { return append([]ResolvedMint(nil), s.mints...) }

// NativeAllocations returns the validated native balances sorted by address.
func (s *GenesisSpec) NativeAllocations() []NativeAlloc { return append([]NativeAlloc(nil), s.native...) }

// TokenAllocations returns the validated token balances sorted by owner and
// symbol.
func (s *GenesisSpec) TokenAllocations() []TokenAlloc { return append([]TokenAlloc(nil), s.tokens...) }

func (s *GenesisSpec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts

	symbols := make(map[string]struct{}, len(s.Mints))
	s.mints = make([]ResolvedMint, 0, len(s.Mints))
	for i := range s.Mints {
		mint := s.Mints[i]
		symbol := token.NormalizeSymbol(mint.Symbol)
		if symbol == "" {
			return fmt.Errorf("mints[%d]: symbol required", i)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("mints[%d]: duplicate symbol %s", i, symbol)
		}
		authority, err := crypto.ParseAddress(strings.TrimSpace(mint.Authority))
		if err != nil {
			return fmt.Errorf("mints[%d]: authority: %w", i, err)
		}
		symbols[symbol] = struct{}{}
		s.mints = append(s.mints, ResolvedMint{Symbol: symbol, Decimals: mint.Decimals, Authority: authority})
	}
	sort.Slice(s.mints, func(i, j int) bool { return s.mints[i].Symbol < s.mints[j].Symbol })

	s.native = make([]NativeAlloc, 0, len(s.Native))
	for addr, amount := range s.Native {
		parsed, err := crypto.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return fmt.Errorf("native %q: %w", addr, err)
		}
		value, err := parseAmount(amount)
		if err != nil {
			return fmt.Errorf("native %q: %w", addr, err)
		}
		s.native = append(s.native, NativeAlloc{Address: parsed, Amount: value})
	}
	sort.Slice(s.native, func(i, j int) bool {
		return bytes.Compare(s.native[i].Address[:], s.native[j].Address[:]) < 0
	})

	s.tokens = make([]TokenAlloc, 0)
	for addr, holdings := range s.Tokens {
		owner, err := crypto.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return fmt.Errorf("tokens %q: %w", addr, err)
		}
		for rawSymbol, amount := range holdings {
			symbol := token.NormalizeSymbol(rawSymbol)
			if _, ok := symbols[symbol]; !ok {
				return fmt.Errorf("tokens %q: unknown mint %s", addr, rawSymbol)
			}
			value, err := parseAmount(amount)
			if err != nil {
				return fmt.Errorf("tokens %q %s: %w", addr, symbol, err)
			}
			s.tokens = append(s.tokens, TokenAlloc{Owner: owner, Symbol: symbol, Amount: value})
		}
	}
	sort.Slice(s.tokens, func(i, j int) bool {
		if c := bytes.Compare(s.tokens[i].Owner[:], s.tokens[j].Owner[:]); c != 0 {
			return c < 0
		}
		return s.tokens[i].Symbol < s.tokens[j].Symbol
	})
	return nil
}

func parseAmount(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("amount required")
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesisTime %q: %w", value, err)
	}
	return ts.UTC(), nil
}

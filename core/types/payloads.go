package types

// Instruction payloads carried by Transaction.Payload. Addresses are bech32
// strings; optional account fields left empty are derived by the runtime from
// the canonical derivation rules (escrow address, associated accounts).

// EscrowMakePayload opens an escrow for the signing maker.
type EscrowMakePayload struct {
	MintA     string `json:"mintA"`
	MintB     string `json:"mintB"`
	Seed      uint64 `json:"seed,string"`
	Deposit   uint64 `json:"deposit,string"`
	Receive   uint64 `json:"receive,string"`
	MakerAtaA string `json:"makerAtaA,omitempty"`
	Escrow    string `json:"escrow,omitempty"`
	Vault     string `json:"vault,omitempty"`
}

// EscrowTakePayload fulfils an open escrow for the signing taker.
type EscrowTakePayload struct {
	Maker     string `json:"maker"`
	MintA     string `json:"mintA"`
	MintB     string `json:"mintB"`
	Escrow    string `json:"escrow"`
	Vault     string `json:"vault,omitempty"`
	TakerAtaA string `json:"takerAtaA,omitempty"`
	TakerAtaB string `json:"takerAtaB,omitempty"`
	MakerAtaB string `json:"makerAtaB,omitempty"`
}

// EscrowRefundPayload closes an open escrow owned by the signing maker.
type EscrowRefundPayload struct {
	MintA     string `json:"mintA"`
	Escrow    string `json:"escrow"`
	Vault     string `json:"vault,omitempty"`
	MakerAtaA string `json:"makerAtaA,omitempty"`
}

// TokenTransferPayload moves tokens out of a holding account owned by the signer.
type TokenTransferPayload struct {
	Mint     string `json:"mint"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount,string"`
	Decimals uint8  `json:"decimals"`
}

// CreateAccountPayload creates the associated holding account of owner for mint.
// The signer pays the account deposit.
type CreateAccountPayload struct {
	Owner string `json:"owner,omitempty"`
	Mint  string `json:"mint"`
}

// NativeTransferPayload moves native balance from the signer to another address.
type NativeTransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount,string"`
}

package models

// Note is the secret material of one deposit.
// Preimage is Nullifier followed by Secret.
type Note struct {
	DepositIndex  uint32   `json:"depositIndex"`
	Preimage      [62]byte `json:"-"`
	Nullifier     [31]byte `json:"-"`
	Secret        [31]byte `json:"-"`
	CommitmentHex string   `json:"commitment"`
	NullifierHex  string   `json:"nullifierHash"`
}

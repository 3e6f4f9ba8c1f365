package models

// NetworkState per-network part of the vault blob
type NetworkState struct {
	Deposits           []Deposit         `json:"deposits"`
	IsInitialized      bool              `json:"isInitialized"`
	IsLoading          bool              `json:"isLoading"`
	ErrorsInitializing []string          `json:"errorsInitializing"`
	NoteCounts         map[string]uint32 `json:"noteCounts"` // pair key -> next derivation index
}

// VaultState decrypted content of the wallet vault
type VaultState struct {
	Mnemonic   string                  `json:"mnemonic"`
	IsImported bool                    `json:"isImported"`
	Networks   map[int64]*NetworkState `json:"networks"`
}

// Network returns the state of chainID, creating it when missing.
func (s *VaultState) Network(chainID int64) *NetworkState {
	if s.Networks == nil {
		s.Networks = make(map[int64]*NetworkState)
	}
	ns, ok := s.Networks[chainID]
	if !ok {
		ns = &NetworkState{
			Deposits:           []Deposit{},
			ErrorsInitializing: []string{},
			NoteCounts:         make(map[string]uint32),
		}
		s.Networks[chainID] = ns
	}
	if ns.NoteCounts == nil {
		ns.NoteCounts = make(map[string]uint32)
	}
	return ns
}

// FindDeposit returns a pointer into the deposit list, or nil.
func (ns *NetworkState) FindDeposit(id string) *Deposit {
	for i := range ns.Deposits {
		if ns.Deposits[i].ID == id {
			return &ns.Deposits[i]
		}
	}
	return nil
}

// RemoveDeposit drops the deposit with the given id and reports whether it existed.
func (ns *NetworkState) RemoveDeposit(id string) bool {
	for i := range ns.Deposits {
		if ns.Deposits[i].ID == id {
			ns.Deposits = append(ns.Deposits[:i], ns.Deposits[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so callers never share slices with the vault.
func (s *VaultState) Clone() *VaultState {
	if s == nil {
		return nil
	}
	out := &VaultState{
		Mnemonic:   s.Mnemonic,
		IsImported: s.IsImported,
		Networks:   make(map[int64]*NetworkState, len(s.Networks)),
	}
	for chainID, ns := range s.Networks {
		cp := &NetworkState{
			Deposits:           make([]Deposit, len(ns.Deposits)),
			IsInitialized:      ns.IsInitialized,
			IsLoading:          ns.IsLoading,
			ErrorsInitializing: append([]string{}, ns.ErrorsInitializing...),
			NoteCounts:         make(map[string]uint32, len(ns.NoteCounts)),
		}
		for i, d := range ns.Deposits {
			if d.Spent != nil {
				spent := *d.Spent
				d.Spent = &spent
			}
			cp.Deposits[i] = d
		}
		for k, v := range ns.NoteCounts {
			cp.NoteCounts[k] = v
		}
		out.Networks[chainID] = cp
	}
	return out
}

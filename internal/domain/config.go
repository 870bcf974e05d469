package domain

// Config is the program-wide singleton: admin identity, treasuries, pause
// flag and the round id counter. It is loaded inside every engine
// transaction and changed only through admin-gated setters.
type Config struct {
	Admin          string
	TreasuryA      string
	TreasuryB      string
	Paused         bool
	CurrentRoundID uint64 // next id to assign
}

// IsAdmin reports whether caller holds the admin identity.
func (c Config) IsAdmin(caller string) bool {
	return caller != "" && caller == c.Admin
}

// Treasury returns the treasury account for token t.
func (c Config) Treasury(t Token) string {
	if t == TokenA {
		return c.TreasuryA
	}
	return c.TreasuryB
}

// LatestRoundID returns the id of the most recently created round.
func (c Config) LatestRoundID() (uint64, bool) {
	if c.CurrentRoundID == 0 {
		return 0, false
	}
	return c.CurrentRoundID - 1, true
}

package domain

// PackTier describes one purchasable pack tier of a game.
type PackTier struct {
	Name      string `json:"name" toml:"name"`
	Tier      int    `json:"tier" toml:"tier"`
	NumPieces int    `json:"numPieces" toml:"num_pieces"`
	Price     int    `json:"price" toml:"price"`
}

// Game is the registry entry for one puzzle campaign. Metatransactions name
// their game by Path.
type Game struct {
	Path                 string     `json:"path" toml:"path"`
	Title                string     `json:"title" toml:"title"`
	ManagerAddress       string     `json:"managerAddress" toml:"manager_address"`
	PieceFactoryAddress  string     `json:"pieceFactoryAddress" toml:"piece_factory_address"`
	ActivePuzzleGroup    int        `json:"activePuzzleGroup" toml:"active_puzzle_group"`
	PastPuzzleGroups     []int      `json:"pastPuzzleGroups" toml:"past_puzzle_groups"`
	PackPurchasesEnabled bool       `json:"packPurchasesEnabled" toml:"pack_purchases_enabled"`
	TradeInEnabled       bool       `json:"tradeInEnabled" toml:"trade_in_enabled"`
	Packs                []PackTier `json:"packs" toml:"packs"`
}

// Pack returns the tier configuration for tier, if the game offers it.
func (g Game) Pack(tier int) (PackTier, bool) {
	for _, p := range g.Packs {
		if p.Tier == tier {
			return p, true
		}
	}
	return PackTier{}, false
}

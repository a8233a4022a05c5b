package domain

// Game identifies a marketplace catalog.
type Game string

const (
	GameCS2   Game = "csgo"
	GameDota2 Game = "dota2"
	GameRust  Game = "rust"
	GameTF2   Game = "tf2"
)

// Listing is a single marketplace offer. Prices are in minor currency units.
type Listing struct {
	ItemID     string
	Title      string
	Price      int64
	Game       Game
	Attributes map[string]string
}

// Attr returns a listing attribute or "" when absent.
func (l Listing) Attr(key string) string {
	if l.Attributes == nil {
		return ""
	}
	return l.Attributes[key]
}

// Page is one page of catalog results. An empty Cursor means the catalog is exhausted.
type Page struct {
	Items  []Listing
	Cursor string
	Total  *int64
}

// Exhausted reports whether no further pages follow.
func (p Page) Exhausted() bool { return p.Cursor == "" }

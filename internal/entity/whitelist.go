package entity

import "time"

// Curated allow-list sources
const (
	ListCisco  = "cisco"
	ListTranco = "tranco"
	// WhitelistSourceBoth is recorded when more than one list matches
	WhitelistSourceBoth = "both"
)

// WhitelistEntry is one normalized domain from a curated allow-list
type WhitelistEntry struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	ListSource string    `json:"list_source"`
	Rank       int       `json:"rank,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WhitelistMatch is the result of a whitelist lookup
type WhitelistMatch struct {
	Whitelisted bool   `json:"whitelisted"`
	Source      string `json:"source,omitempty"`
}

// WhitelistStats reports the current snapshot size per list
type WhitelistStats struct {
	Lists    map[string]int `json:"lists"`
	Total    int            `json:"total"`
	LoadedAt time.Time      `json:"loaded_at"`
}

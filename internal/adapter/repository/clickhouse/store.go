package clickhouse

// Store groups the repositories behind one value satisfying every
// persistence contract of the validator
type Store struct {
	*IndicatorRepository
	*VendorCheckRepository
	*QuotaRepository
	*WhitelistRepository
}

// NewStore builds every repository over conn
func NewStore(conn *Connection) *Store {
	return &Store{
		IndicatorRepository:   NewIndicatorRepository(conn),
		VendorCheckRepository: NewVendorCheckRepository(conn),
		QuotaRepository:       NewQuotaRepository(conn),
		WhitelistRepository:   NewWhitelistRepository(conn),
	}
}

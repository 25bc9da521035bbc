package domain

// ProtocolID is the well-known key of the singleton Protocol row.
const ProtocolID = "compound-v2"

// Well-known mainnet addresses, lowercase hex.
const (
	EthAddress   = "0x0000000000000000000000000000000000000000"
	CEthAddress  = "0x4ddc2d193948926d02f9b1fe9e1daa0718270ed5"
	SaiAddress   = "0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359"
	UsdcAddress  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	CUsdcAddress = "0x39aa39c021dfbae8fac545936693ac917d5e7563"
	CompAddress  = "0xc00e94cb662c3520282e6f5717214004a7f26888"
	CCompAddress = "0x70e36f6bf80a52b3b46b3af8e106cc0ed743e8e4"
)

// Bucket widths in seconds.
const (
	SecPerHour = 3600
	SecPerDay  = 86400
	SecPerWeek = 604800
)

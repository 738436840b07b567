package analyzers

// BIST30Tickers is the Borsa Istanbul 30 universe the engine evaluates each
// cycle. Symbols are bare (no .IS suffix); the feed layer adds the exchange
// suffix.
var BIST30Tickers = []string{
	"AKBNK", "ALARK", "ARCLK", "ASELS", "ASTOR",
	"BIMAS", "EKGYO", "ENKAI", "EREGL", "FROTO",
	"GARAN", "GUBRF", "HEKTS", "ISCTR", "KCHOL",
	"KONTR", "KOZAL", "KRDMD", "ODAS", "PETKM",
	"PGSUS", "SAHOL", "SASA", "SISE", "TAVHL",
	"TCELL", "THYAO", "TOASO", "TUPRS", "YKBNK",
}

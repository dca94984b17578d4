// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Canonical entity types served by the default configuration.
const (
	EntityStockPrice     = "stock_price"
	EntityCompanyProfile = "company_profile"
	EntityIndicator      = "technical_indicator"
	EntityNews           = "news"
)

// StockPrice is the canonical view of a fused quote.
type StockPrice struct {
	Symbol        string  `json:"symbol" mapstructure:"symbol"`
	Price         float64 `json:"price" mapstructure:"price"`
	Change        float64 `json:"change" mapstructure:"change"`
	ChangePercent float64 `json:"change_percent" mapstructure:"change_percent"`
	Volume        float64 `json:"volume" mapstructure:"volume"`
	Currency      string  `json:"currency" mapstructure:"currency"`
	Exchange      string  `json:"exchange" mapstructure:"exchange"`
}

// CompanyProfile is the canonical view of fused company fundamentals.
type CompanyProfile struct {
	Symbol    string  `json:"symbol" mapstructure:"symbol"`
	Name      string  `json:"name" mapstructure:"name"`
	Sector    string  `json:"sector" mapstructure:"sector"`
	Industry  string  `json:"industry" mapstructure:"industry"`
	MarketCap float64 `json:"market_cap" mapstructure:"market_cap"`
	Country   string  `json:"country" mapstructure:"country"`
	Website   string  `json:"website" mapstructure:"website"`
}

// TechnicalIndicator is the canonical view of a fused indicator reading.
type TechnicalIndicator struct {
	Symbol    string  `json:"symbol" mapstructure:"symbol"`
	Indicator string  `json:"indicator" mapstructure:"indicator"`
	Value     float64 `json:"value" mapstructure:"value"`
	Signal    string  `json:"signal" mapstructure:"signal"`
	Period    int     `json:"period" mapstructure:"period"`
}

// NewsItem is the canonical view of a fused news headline.
type NewsItem struct {
	Symbol    string `json:"symbol" mapstructure:"symbol"`
	Headline  string `json:"headline" mapstructure:"headline"`
	URL       string `json:"url" mapstructure:"url"`
	Publisher string `json:"publisher" mapstructure:"publisher"`
	Sentiment string `json:"sentiment" mapstructure:"sentiment"`
}

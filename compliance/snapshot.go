package compliance

// DealType is the closed set of deal structures the evaluator understands.
type DealType string

const (
	DealTypeCash    DealType = "cash"
	DealTypeFinance DealType = "finance"
	DealTypeLease   DealType = "lease"
)

// ValidDealType reports whether the value is one of the known deal types.
func ValidDealType(t DealType) bool {
	switch t {
	case DealTypeCash, DealTypeFinance, DealTypeLease:
		return true
	default:
		return false
	}
}

// Snapshot is the immutable view of a deal an evaluation runs against. It is
// constructed fresh per call from the source deal and never cached across
// deal mutations.
type Snapshot struct {
	Jurisdiction  string   `json:"jurisdiction"`
	DealType      DealType `json:"deal_type"`
	HasTradeIn    bool     `json:"has_trade_in"`
	IsFinanced    bool     `json:"is_financed"`
	HasLienholder bool     `json:"has_lienholder"`

	SalePrice      float64 `json:"sale_price"`
	TradeInValue   float64 `json:"trade_in_value"`
	AmountFinanced float64 `json:"amount_financed"`

	BuyerName   string `json:"buyer_name"`
	BuyerState  string `json:"buyer_state"`
	CoBuyerName string `json:"co_buyer_name,omitempty"`

	VehicleVIN   string  `json:"vehicle_vin"`
	VehicleYear  int     `json:"vehicle_year"`
	VehicleMake  string  `json:"vehicle_make"`
	VehicleModel string  `json:"vehicle_model"`
	VehicleGVWR  float64 `json:"vehicle_gvwr"`

	DealerFees map[string]float64 `json:"dealer_fees,omitempty"`
	TaxRate    float64            `json:"tax_rate"`
}

// IsOutOfStateBuyer is derived, not stored: the buyer's state is present and
// differs from the deal's jurisdiction.
func (s Snapshot) IsOutOfStateBuyer() bool {
	return s.BuyerState != "" && s.BuyerState != s.Jurisdiction
}

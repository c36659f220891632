package models

// Company is one extracted profile record, serialised as a single line of
// the results log. Name and URL are always set; every other field is
// optional and omitted when the page did not carry it.
type Company struct {
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Founded         *string    `json:"founded,omitempty"`
	Status          *string    `json:"status,omitempty"`
	LatestDealType  *string    `json:"latest_deal_type,omitempty"`
	FinancingRounds *string    `json:"financing_rounds,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Website         *string    `json:"website,omitempty"`
	OwnershipStatus *string    `json:"ownership_status,omitempty"`
	FinancingStatus *string    `json:"financing_status,omitempty"`
	PrimaryIndustry *string    `json:"primary_industry,omitempty"`
	ParentCompany   *string    `json:"parent_company,omitempty"`
	Address         []string   `json:"address,omitempty"`
	Verticals       []Vertical `json:"verticals,omitempty"`
	OtherIndustries []string   `json:"other_industries,omitempty"`
}

// Vertical is a named industry vertical link on a profile page.
type Vertical struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

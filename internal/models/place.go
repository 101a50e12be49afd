package models

// Place is a reverse-geocoded coordinate pair.
type Place struct {
	DisplayName string  `json:"displayName"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

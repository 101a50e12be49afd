package models

// WeatherData is the payload served by GET /api/weather.
type WeatherData struct {
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	UVIndex     float64 `json:"uv_index"`
	Condition   string  `json:"condition"`
	Icon        string  `json:"icon"`
	Location    string  `json:"location"`
}

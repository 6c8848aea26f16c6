package models

import "time"

// Transaction holds the immutable facts about one payment event under analysis.
type Transaction struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Country    string    `json:"country"`
	Channel    string    `json:"channel"`
	DeviceID   string    `json:"device_id"`
	MerchantID string    `json:"merchant_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomerBehaviorProfile is the historical baseline a transaction is judged against.
type CustomerBehaviorProfile struct {
	CustomerID     string   `json:"customer_id"`
	AverageAmount  float64  `json:"average_amount"`
	UsualHourStart int      `json:"usual_hour_start"`
	UsualHourEnd   int      `json:"usual_hour_end"`
	UsualCountries []string `json:"usual_countries"`
	UsualDevices   []string `json:"usual_devices"`
}

// KnowsCountry reports whether the country appears in the customer's usual countries.
func (p *CustomerBehaviorProfile) KnowsCountry(country string) bool {
	for _, c := range p.UsualCountries {
		if c == country {
			return true
		}
	}
	return false
}

// KnowsDevice reports whether the device appears in the customer's usual devices.
func (p *CustomerBehaviorProfile) KnowsDevice(deviceID string) bool {
	for _, d := range p.UsualDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}

package models

import "time"

// Session is a completed charging session as seen from a charger.
type Session struct {
	ID              int64     `json:"id,omitempty"`
	EntityID        string    `json:"entity_id"`
	VIN             string    `json:"vin,omitempty"`
	Source          string    `json:"source"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationS       float64   `json:"duration_s"`
	EnergyWh        float64   `json:"energy_wh"`
	PeakPowerW      float64   `json:"peak_power_w"`
	AvgPriceCents   float64   `json:"avg_price_cents"`
	SupplyCostCents float64   `json:"supply_cost_cents"`
	FullCostCents   float64   `json:"full_cost_cents"`
}

// EnergyKWh returns the session energy in kilowatt hours.
func (s *Session) EnergyKWh() float64 {
	return s.EnergyWh / 1000
}

// SessionState is a live snapshot of an in-progress charger session.
type SessionState struct {
	EntityID        string    `json:"entity_id"`
	VIN             string    `json:"vin,omitempty"`
	Source          string    `json:"source"`
	StartTime       time.Time `json:"start_time"`
	EnergyWh        float64   `json:"energy_wh"`
	PeakPowerW      float64   `json:"peak_power_w"`
	SupplyCostCents float64   `json:"supply_cost_cents"`
	FullCostCents   float64   `json:"full_cost_cents"`
}

// VehicleSession is a completed charging session as seen from the vehicle.
type VehicleSession struct {
	ID              int64     `json:"id,omitempty"`
	VIN             string    `json:"vin"`
	DisplayName     string    `json:"display_name,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	StartingBattery int       `json:"starting_battery_level"`
	EndingBattery   int       `json:"ending_battery_level"`
	StartingRangeKm float64   `json:"starting_range_km"`
	EndingRangeKm   float64   `json:"ending_range_km"`
	EnergyAddedKWh  float64   `json:"energy_added_kwh"`
	PeakPowerKw     float64   `json:"peak_power_kw"`
	AvgPowerKw      float64   `json:"avg_power_kw"`
	ChargerType     string    `json:"charger_type"`
	IsHomeCharge    bool      `json:"is_home_charge"`
	Latitude        float64   `json:"latitude,omitempty"`
	Longitude       float64   `json:"longitude,omitempty"`
}

// DurationS returns the session duration in seconds.
func (s *VehicleSession) DurationS() float64 {
	return s.EndTime.Sub(s.StartTime).Seconds()
}

// EfficiencyRecord pairs a charger-side and a vehicle-side view of the
// same physical session and records what fraction of the delivered energy
// made it into the battery.
type EfficiencyRecord struct {
	ID               int64     `json:"id,omitempty"`
	ChargerID        string    `json:"charger_id"`
	VIN              string    `json:"vin"`
	DisplayName      string    `json:"display_name,omitempty"`
	ChargerEnergyKWh float64   `json:"charger_energy_kwh"`
	VehicleEnergyKWh float64   `json:"vehicle_energy_kwh"`
	EfficiencyPct    float64   `json:"efficiency_pct"`
	LossKWh          float64   `json:"loss_kwh"`
	LossPct          float64   `json:"loss_pct"`
	StartTime        time.Time `json:"start_time"`
}

// Smart charging action types.
const (
	ActionStop           = "stop_charging"
	ActionResume         = "resume_charging"
	ActionSimulatedStop  = "simulated_stop"
	ActionSimulatedStart = "simulated_resume"
)

// ActionRecord is one control decision taken (or simulated) for a vehicle.
type ActionRecord struct {
	ID         int64     `json:"id,omitempty"`
	VIN        string    `json:"vin"`
	Action     string    `json:"action"`
	PriceCents float64   `json:"price_cents"`
	Threshold  float64   `json:"threshold_cents"`
	Percentile int       `json:"price_percentile"`
	DryRun     bool      `json:"dry_run"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PriceStatistics is a distribution summary over a lookback window of
// spot price samples. All values are cents per kWh rounded to 3 decimals.
type PriceStatistics struct {
	Mean         float64   `json:"mean"`
	Median       float64   `json:"median"`
	StdDev       float64   `json:"std_dev"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	P10          float64   `json:"p10"`
	P25          float64   `json:"p25"`
	P50          float64   `json:"p50"`
	P75          float64   `json:"p75"`
	P90          float64   `json:"p90"`
	P95          float64   `json:"p95"`
	SampleCount  int       `json:"sample_count"`
	DaysCovered  int       `json:"days_covered"`
	LookbackDays int       `json:"lookback_days"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Percentile returns the stored percentile value for p (one of 10, 25,
// 50, 75, 90, 95).
func (s *PriceStatistics) Percentile(p int) float64 {
	switch p {
	case 10:
		return s.P10
	case 25:
		return s.P25
	case 50:
		return s.P50
	case 75:
		return s.P75
	case 90:
		return s.P90
	case 95:
		return s.P95
	}
	return 0
}

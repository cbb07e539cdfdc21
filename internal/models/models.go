package models

import "time"

// ChargerVitals is a snapshot of the wall connector's local vitals endpoint.
type ChargerVitals struct {
	ContactorClosed  bool     `json:"contactor_closed"`
	VehicleConnected bool     `json:"vehicle_connected"`
	SessionS         int64    `json:"session_s"`
	GridV            float64  `json:"grid_v"`
	GridHz           float64  `json:"grid_hz"`
	VehicleCurrentA  float64  `json:"vehicle_current_a"`
	CurrentAA        float64  `json:"currentA_a"`
	CurrentBA        float64  `json:"currentB_a"`
	CurrentCA        float64  `json:"currentC_a"`
	VoltageAV        float64  `json:"voltageA_v"`
	VoltageBV        float64  `json:"voltageB_v"`
	VoltageCV        float64  `json:"voltageC_v"`
	PCBATempC        float64  `json:"pcba_temp_c"`
	HandleTempC      float64  `json:"handle_temp_c"`
	MCUTempC         float64  `json:"mcu_temp_c"`
	UptimeS          int64    `json:"uptime_s"`
	SessionEnergyWh  float64  `json:"session_energy_wh"`
	EVSEState        int      `json:"evse_state"`
	ConfigStatus     int      `json:"config_status"`
	CurrentAlerts    []string `json:"current_alerts"`
}

// PowerW returns the current draw in watts (grid voltage times vehicle current).
func (v *ChargerVitals) PowerW() float64 {
	return v.GridV * v.VehicleCurrentA
}

// IsCharging reports whether the charger is actively delivering power.
func (v *ChargerVitals) IsCharging() bool {
	return v.ContactorClosed && v.VehicleCurrentA > 0
}

// ChargerLifetime is the wall connector's lifetime counters endpoint.
type ChargerLifetime struct {
	ContactorCycles       int64   `json:"contactor_cycles"`
	ContactorCyclesLoaded int64   `json:"contactor_cycles_loaded"`
	AlertCount            int64   `json:"alert_count"`
	ThermalFoldbacks      int64   `json:"thermal_foldbacks"`
	ChargeStarts          int64   `json:"charge_starts"`
	EnergyWh              float64 `json:"energy_wh"`
	ConnectorCycles       int64   `json:"connector_cycles"`
	UptimeS               int64   `json:"uptime_s"`
	ChargingTimeS         int64   `json:"charging_time_s"`
}

// ChargerVersion identifies the wall connector firmware and hardware.
type ChargerVersion struct {
	FirmwareVersion string `json:"firmware_version"`
	PartNumber      string `json:"part_number"`
	SerialNumber    string `json:"serial_number"`
}

// ChargerWifiStatus is the wall connector's network status endpoint.
type ChargerWifiStatus struct {
	WifiSSID           string `json:"wifi_ssid"`
	WifiSignalStrength int    `json:"wifi_signal_strength"`
	WifiRSSI           int    `json:"wifi_rssi"`
	WifiConnected      bool   `json:"wifi_connected"`
	Internet           bool   `json:"internet"`
}

// WallConnectorStatus is one wall connector row from the fleet energy site
// live_status endpoint. Unlike the local vitals it only carries instantaneous
// power, so session energy has to be integrated over time.
type WallConnectorStatus struct {
	DIN                 string  `json:"din"`
	VIN                 string  `json:"vin"`
	WallConnectorState  int     `json:"wall_connector_state"`
	WallConnectorFault  int     `json:"wall_connector_fault_state"`
	WallConnectorPowerW float64 `json:"wall_connector_power"`
	PowershareState     int     `json:"powershare_session_state"`
}

// IsCharging reports whether this unit is actively delivering power.
func (w *WallConnectorStatus) IsCharging() bool {
	return w.WallConnectorState == 1 && w.WallConnectorPowerW > 0
}

// UnitNumber extracts the power-sharing unit number from the DIN
// ("1457768-02-G--ABC123" -> 2). 1 is the leader, 2+ are followers.
func (w *WallConnectorStatus) UnitNumber() int {
	for i := 0; i < len(w.DIN); i++ {
		if w.DIN[i] == '-' {
			num := 0
			for j := i + 1; j < len(w.DIN) && w.DIN[j] >= '0' && w.DIN[j] <= '9'; j++ {
				num = num*10 + int(w.DIN[j]-'0')
			}
			return num
		}
	}
	return 0
}

// Vehicle is the cloud-reported vehicle state relevant to charge tracking.
type Vehicle struct {
	VIN               string  `json:"vin"`
	DisplayName       string  `json:"display_name"`
	State             string  `json:"state"`
	BatteryLevel      int     `json:"battery_level"`
	BatteryRangeKm    float64 `json:"battery_range_km"`
	ChargingState     string  `json:"charging_state"`
	ChargerPowerKw    float64 `json:"charger_power_kw"`
	ChargeAmps        int     `json:"charge_amps"`
	ChargeEnergyAdded float64 `json:"charge_energy_added_kwh"`
	TimeToFullCharge  float64 `json:"time_to_full_charge_h"`
	FastCharger       bool    `json:"fast_charger_present"`
	ConnChargeCable   string  `json:"conn_charge_cable"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
}

// IsCharging reports whether the vehicle is actively charging.
func (v *Vehicle) IsCharging() bool {
	return v.ChargingState == "Charging"
}

// IsConnected reports whether the vehicle is plugged in.
func (v *Vehicle) IsConnected() bool {
	return v.ChargingState != "" && v.ChargingState != "Disconnected"
}

// ChargerTypeName classifies the charger a vehicle is plugged into.
func (v *Vehicle) ChargerTypeName() string {
	switch {
	case v.FastCharger:
		return "Supercharger"
	case v.ConnChargeCable == "SAE":
		return "Wall Connector"
	case v.ConnChargeCable == "IEC":
		return "IEC (EU)"
	case v.ConnChargeCable != "":
		return v.ConnChargeCable
	}
	return "Unknown"
}

// PriceSample is a single spot price observation in cents per kWh.
type PriceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	PriceCents float64   `json:"price_cents"`
}

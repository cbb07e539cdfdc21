package twc

import "github.com/chargewatch/chargewatch/internal/models"

// The connector's JSON already matches the model field tags, so the wire
// types are the model types.
type (
	Vitals     = models.ChargerVitals
	Lifetime   = models.ChargerLifetime
	Version    = models.ChargerVersion
	WifiStatus = models.ChargerWifiStatus
)

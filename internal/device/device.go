package device

import (
	"github.com/go-logr/logr"

	"github.com/AMDEPYC/adaptive-cpu-agent/internal/config"
)

// Device identifies the hardware variant, which the model uses as a feature.
type Device uint32

const (
	Unknown Device = iota
	Raven
	Oriole
)

const deviceProperty = "ro.product.device"

// Read resolves the device identity from the property store. Unrecognised
// values map to Unknown.
func Read(store config.PropertyStore, log logr.Logger) Device {
	raw := store.GetProperty(deviceProperty, "")
	var dev Device
	switch raw {
	case "raven":
		dev = Raven
	case "oriole":
		dev = Oriole
	default:
		log.Info("Failed to parse device property, setting to UNKNOWN", "value", raw)
		dev = Unknown
	}
	log.V(5).Info("Parsed device", "property", raw, "device", uint32(dev))
	return dev
}

func (d Device) String() string {
	switch d {
	case Raven:
		return "RAVEN"
	case Oriole:
		return "ORIOLE"
	default:
		return "UNKNOWN"
	}
}

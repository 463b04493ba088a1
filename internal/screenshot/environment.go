package screenshot

import (
	"image"

	"github.com/kbinani/screenshot"
)

// Display is one active monitor
type Display struct {
	Index  int             `json:"index"`
	Bounds image.Rectangle `json:"bounds"`
}

// Environment describes capture availability
type Environment struct {
	Primary          string    `json:"primary"`
	PrimaryAvailable bool      `json:"primary_available"`
	Fallback         string    `json:"fallback"`
	CurrentMethod    Method    `json:"current_method"`
	Forced           bool      `json:"forced"`
	Displays         []Display `json:"displays"`
	Message          string    `json:"message,omitempty"`
}

// Environment reports the backends this orchestrator would use
func (o *Orchestrator) Environment() Environment {
	env := Environment{
		PrimaryAvailable: o.IsPrimaryAvailable(),
		CurrentMethod:    o.CurrentMethod(),
		Displays:         ActiveDisplays(),
	}
	_, env.Forced = o.ForcedMethod()
	if o.primary != nil {
		env.Primary = o.primary.Name()
	}
	if o.fallback != nil {
		env.Fallback = o.fallback.Name()
	}
	if !env.PrimaryAvailable {
		env.Message = "primary capture unavailable, fallback in use"
	}
	return env
}

// ActiveDisplays lists the monitors kbinani/screenshot can see
func ActiveDisplays() []Display {
	n := screenshot.NumActiveDisplays()
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		displays = append(displays, Display{Index: i, Bounds: screenshot.GetDisplayBounds(i)})
	}
	return displays
}

package safemode

import "fmt"

// TimeBased trips safe mode once any monitored device has been offline for
// at least Timeout, clearing only once every monitored device is back
// online.
type TimeBased struct {
	Timeout float64 // seconds

	state State
}

// NewTimeBased constructs a TimeBased policy with the given device-offline
// timeout in seconds.
func NewTimeBased(timeoutSeconds float64) *TimeBased {
	return &TimeBased{Timeout: timeoutSeconds}
}

func (p *TimeBased) Evaluate(in Input) State {
	if in.ExternalTrigger != "" {
		if !p.state.Active {
			p.state.TriggeredAt = in.Now
		}
		p.state.Active = true
		p.state.Reason = fmt.Sprintf("service %s unrecoverable", in.ExternalTrigger)
		p.state.TriggerService = in.ExternalTrigger
		return p.state
	}

	offline, devID := anyOffline(in.Devices, secondsToDuration(p.Timeout))
	if offline {
		if !p.state.Active {
			p.state.TriggeredAt = in.Now
		}
		p.state.Active = true
		p.state.Reason = fmt.Sprintf("Device %s offline for %ds", devID, int(p.Timeout))
		p.state.TriggerService = ""
		return p.state
	}

	if allOnline(in.Devices) {
		p.state = State{}
	}
	return p.state
}

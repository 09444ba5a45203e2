package signal

// Action is the outcome of one decision cycle.
type Action int

const (
	ActionHold Action = iota
	ActionExit
	ActionAskAdvisor
)

func (a Action) String() string {
	switch a {
	case ActionExit:
		return "exit"
	case ActionAskAdvisor:
		return "ask_advisor"
	default:
		return "hold"
	}
}

// moderateExitCount is the multi-signal override: this many independent
// MODERATE warnings outweigh a single advisor consult.
const moderateExitCount = 3

// Decision is the combined outcome of the rule policy for one poll cycle.
type Decision struct {
	Action     Action
	Confidence float64
	Reasons    []string
	Signals    []Signal // the signals that contributed to Reasons
}

// Decide folds a signal set into an exit decision. Deterministic: identical
// sets always yield identical decisions.
func Decide(set Set) Decision {
	strongest, ok := set.Strongest()
	if !ok {
		return Decision{
			Action:     ActionHold,
			Confidence: 0.8,
			Reasons:    []string{"no concerning signals"},
		}
	}

	switch {
	case strongest.Strength == Strong:
		strong := set.AtLeast(Strong)
		return Decision{
			Action:     ActionExit,
			Confidence: 0.9,
			Reasons:    Reasons(strong),
			Signals:    strong,
		}
	case strongest.Strength == Moderate:
		active := set.AtLeast(Weak)
		if set.CountAtLeast(Moderate) >= moderateExitCount {
			return Decision{
				Action:     ActionExit,
				Confidence: 0.7,
				Reasons:    Reasons(active),
				Signals:    active,
			}
		}
		return Decision{
			Action:     ActionAskAdvisor,
			Confidence: 0.5,
			Reasons:    Reasons(active),
			Signals:    active,
		}
	default:
		weak := set.AtLeast(Weak)
		reasons := Reasons(weak)
		if len(reasons) == 0 {
			reasons = []string{"no concerning signals"}
		}
		return Decision{
			Action:     ActionHold,
			Confidence: 0.8,
			Reasons:    reasons,
			Signals:    weak,
		}
	}
}

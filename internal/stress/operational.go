package stress

import (
	"time"
)

// Operational scenario names. These exercise system resilience rather than
// market moves: the result is a recovery-time verdict against the target.
type OperationalScenario string

const (
	APIFailover      OperationalScenario = "api_failover"
	DatabaseRecovery OperationalScenario = "database_recovery"
	ExchangeOutage   OperationalScenario = "exchange_outage"
)

// Operational recovery targets.
const (
	APIFailoverTarget      = 30 * time.Second
	DatabaseRecoveryTarget = 60 * time.Second
	ExchangeOutageTarget   = 2 * time.Minute
)

// OperationalResult is the outcome of one operational drill.
type OperationalResult struct {
	Scenario     OperationalScenario `json:"scenario"`
	RecoveryTime time.Duration       `json:"recovery_time"`
	Target       time.Duration       `json:"target"`
	MeetsTarget  bool                `json:"meets_target"`
	TestTime     time.Time           `json:"test_time"`
	Notes        string              `json:"notes,omitempty"`
}

// operationalTarget maps a scenario to its recovery target.
func operationalTarget(s OperationalScenario) time.Duration {
	switch s {
	case APIFailover:
		return APIFailoverTarget
	case DatabaseRecovery:
		return DatabaseRecoveryTarget
	default:
		return ExchangeOutageTarget
	}
}

// RunOperationalDrill executes the given recovery probe and grades the
// measured recovery time against the scenario target. The probe performs
// the actual drill (e.g. reopen the journal, replay the cache snapshot)
// and returns when the subsystem is serving again.
func (e *Engine) RunOperationalDrill(scenario OperationalScenario, probe func() error) OperationalResult {
	start := e.clock.Now()
	res := OperationalResult{
		Scenario: scenario,
		Target:   operationalTarget(scenario),
		TestTime: start,
	}

	if err := probe(); err != nil {
		res.Notes = err.Error()
		res.RecoveryTime = e.clock.Now().Sub(start)
		return res
	}

	res.RecoveryTime = e.clock.Now().Sub(start)
	res.MeetsTarget = res.RecoveryTime <= res.Target
	e.log.Info().
		Str("scenario", string(scenario)).
		Dur("recovery", res.RecoveryTime).
		Bool("meets_target", res.MeetsTarget).
		Msg("Operational drill complete")
	return res
}

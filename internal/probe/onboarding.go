package probe

import (
	"context"
	"time"

	"github.com/offshore-budgeting/syncore/internal/prefs"
)

// KeyRemoteHasData remembers that the remote mirror was once seen holding
// data, so later launches skip the network probe.
const KeyRemoteHasData = "sync.remote_has_data"

// Decision is the first-launch onboarding outcome.
type Decision string

const (
	DecisionStandardOnboarding Decision = "standard_onboarding"
	DecisionPromptForRemote    Decision = "prompt_for_remote_data"
)

// Choice is the user's answer when prompted.
type Choice string

const (
	ChoiceUseRemoteData Choice = "use_remote_data"
	ChoiceStartFresh    Choice = "start_fresh"
)

// Resolution is what the app does after a Choice.
type Resolution string

const (
	ResolutionSkipOnboarding  Resolution = "skip_onboarding"
	ResolutionStartOnboarding Resolution = "start_onboarding"
)

// Checker supplies the facts an onboarding decision needs.
type Checker interface {
	MirroringEnabled() bool
	AccountAvailable(ctx context.Context) bool
	RemoteDataExists(ctx context.Context) bool
}

// Onboarding decides whether a fresh install should offer existing remote data.
type Onboarding struct {
	Checker Checker
}

// InitialDecision prompts only when mirroring is enabled, the account is
// available and the remote already holds data.
func (o Onboarding) InitialDecision(ctx context.Context) Decision {
	if !o.Checker.MirroringEnabled() {
		return DecisionStandardOnboarding
	}
	if !o.Checker.AccountAvailable(ctx) {
		return DecisionStandardOnboarding
	}
	if !o.Checker.RemoteDataExists(ctx) {
		return DecisionStandardOnboarding
	}
	return DecisionPromptForRemote
}

// Resolve maps the user's choice to the next step.
func (o Onboarding) Resolve(c Choice) Resolution {
	if c == ChoiceUseRemoteData {
		return ResolutionSkipOnboarding
	}
	return ResolutionStartOnboarding
}

// SystemChecker composes the preference store with live probes.
type SystemChecker struct {
	Prefs        prefs.Store
	Availability RemoteAvailability
	Remote       RemoteDataProbe
	Timeout      time.Duration
}

func (s SystemChecker) MirroringEnabled() bool {
	return s.Prefs.Bool(prefs.KeyMirroringEnabled)
}

func (s SystemChecker) AccountAvailable(ctx context.Context) bool {
	return s.Availability.Resolve(ctx, false)
}

// RemoteDataExists trusts a remembered positive answer, otherwise probes and
// remembers a positive result.
func (s SystemChecker) RemoteDataExists(ctx context.Context) bool {
	if s.Prefs.Bool(KeyRemoteHasData) {
		return true
	}
	if !s.Remote.HasAnyRemoteData(ctx, s.Timeout) {
		return false
	}
	_ = s.Prefs.SetBool(KeyRemoteHasData, true)
	return true
}

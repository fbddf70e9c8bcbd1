package session

// Observer receives session lifecycle outcomes (metrics hook).
type Observer interface {
	SessionStarted()
	RefreshOutcome(kind string)
	FamilyRevoked(reason RevocationReason, revoked int)
}

type nopObserver struct{}

func (nopObserver) SessionStarted() {}
func (nopObserver) RefreshOutcome(string) {}
func (nopObserver) FamilyRevoked(RevocationReason, int) {}

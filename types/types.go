package types

// LifecycleManager is implemented by every long-lived component of the
// sync core. Start and Stop are idempotent with respect to state.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

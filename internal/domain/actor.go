package domain

// Actor is the forum identity attempting a protected action. The host forum
// authenticates users; this backend only consumes the resulting identity
// attributes. A nil *Actor means the request is anonymous.
type Actor struct {
	ID         string
	Staff      bool
	TrustLevel int
}

// ActorIDOrNil returns a pointer to the actor's ID for persistence, or nil
// for anonymous actors so the flow row records no owner.
func ActorIDOrNil(a *Actor) *string {
	if a == nil {
		return nil
	}
	id := a.ID
	return &id
}

// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the acting forum user from the trusted identity headers
// the host forum attaches when proxying requests to this service. The
// service never authenticates users itself; it relies on the forum having
// done so and asserting the result per request. Requests without the actor
// header are treated as anonymous.
package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/verigate/go-verify-backend/internal/domain"
)

const (
	// actorKey is the Gin context key under which the resolved actor is stored.
	actorKey = "actor"

	// HeaderActorID carries the forum user id; absent means anonymous.
	HeaderActorID = "X-Actor-ID"
	// HeaderActorStaff marks moderators and admins ("true"/"1").
	HeaderActorStaff = "X-Actor-Staff"
	// HeaderActorTrustLevel carries the forum trust level as an integer.
	HeaderActorTrustLevel = "X-Actor-Trust-Level"
)

// Actor resolves the acting user from the trusted identity headers and
// stores it in the Gin context. Must run before any handler that calls
// ActorFrom. Unparseable staff or trust-level values degrade to false / 0
// rather than failing the request.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			// Anonymous: nothing stored, ActorFrom returns nil.
			c.Next()
			return
		}

		a := &domain.Actor{ID: id}
		switch strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorStaff))) {
		case "1", "true", "yes":
			a.Staff = true
		}
		if tl, err := strconv.Atoi(strings.TrimSpace(c.GetHeader(HeaderActorTrustLevel))); err == nil && tl >= 0 {
			a.TrustLevel = tl
		}

		c.Set(actorKey, a)
		c.Next()
	}
}

// ActorFrom returns the actor resolved by Actor(), or nil for anonymous
// requests. Callers never need a nil-check beyond the anonymous case.
func ActorFrom(c *gin.Context) *domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(*domain.Actor); ok {
			return a
		}
	}
	return nil
}

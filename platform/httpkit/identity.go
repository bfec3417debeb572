// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity represents the authenticated Whop user inside one experience.
// Handlers read it without depending on how the token was parsed.
type Identity interface {
	// UserID returns the Whop user ID (e.g. "user_abc").
	UserID() string
	// ExperienceID returns the tenant the token was issued for.
	ExperienceID() string
	// Roles returns the user's assigned roles.
	Roles() []string
	// HasRole checks if the user has a specific role.
	HasRole(role string) bool
	// IsAuthenticated returns true if the user is authenticated.
	IsAuthenticated() bool
}

// RoleAdmin is granted to the experience owner and may author funnels.
const RoleAdmin = "admin"

type identity struct {
	userID        string
	experienceID  string
	roles         []string
	authenticated bool
}

func (i *identity) UserID() string       { return i.userID }
func (i *identity) ExperienceID() string { return i.experienceID }
func (i *identity) Roles() []string      { return i.roles }
func (i *identity) IsAuthenticated() bool {
	return i.authenticated
}

func (i *identity) HasRole(role string) bool {
	for _, r := range i.roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	userID := c.GetString(ContextUserIDKey)
	experienceID := c.GetString(ContextExperienceIDKey)
	if userID == "" || experienceID == "" {
		return &identity{authenticated: false}
	}

	var roleList []string
	if roles, ok := c.Get(ContextRolesKey); ok {
		roleList, _ = roles.([]string)
	}

	return &identity{
		userID:        userID,
		experienceID:  experienceID,
		roles:         roleList,
		authenticated: true,
	}
}

// MustGetIdentity extracts the Identity from a Gin context.
// If the user is not authenticated, it aborts with 401 Unauthorized and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return id
}

package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role allowed on the back-office routes.
const RoleAdmin = "admin"

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Actor string
	Role  string
	JTI   string
}

// AccessTokenClaims represents the typed JWT presented by operators.
type AccessTokenClaims struct {
	Actor string `json:"actor"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

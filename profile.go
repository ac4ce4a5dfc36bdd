package portalauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Profile is the normalized identity produced from a validated token,
// combined with a freshly minted session id. It carries no storage
// knowledge; persisting it as a SessionRecord is the orchestrator's job.
type Profile struct {
	SessionID      string
	SubjectID      string
	FirstName      string
	LastName       string
	DisplayName    string
	OrganisationID string
	Role           string
	Scope          []string
}

// Claim names required in every identity token. Tokens missing any of them
// never produce a Profile.
var requiredClaims = []string{"sub", "firstName", "lastName"}

// ExtractProfile decodes the identity token from an upstream token response,
// validates its claims, and produces a Profile with a new session id.
//
// Decoding only: the token's signature is not re-verified here. Signature
// trust at sign-in time rests on the integrity of the provider redirect;
// expiry is enforced later on every request by the session validator.
//
// Failure modes, in order of detection: ErrMissingCredentials when the
// response carries no token, ErrTokenDecode when the token is not a
// parseable JWT structure, ErrEmptyPayload when the claims body is empty,
// and *MissingClaimsError naming every absent required claim.
func ExtractProfile(creds *TokenResponse) (*Profile, error) {
	if creds == nil || creds.IDToken == "" {
		return nil, ErrMissingCredentials
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(creds.IDToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenDecode, err)
	}

	if len(claims) == 0 {
		return nil, ErrEmptyPayload
	}

	var missing []string
	for _, name := range requiredClaims {
		if stringClaim(claims, name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingClaimsError{Missing: missing}
	}

	firstName := stringClaim(claims, "firstName")
	lastName := stringClaim(claims, "lastName")

	profile := &Profile{
		SessionID:      uuid.NewString(),
		SubjectID:      stringClaim(claims, "sub"),
		FirstName:      firstName,
		LastName:       lastName,
		DisplayName:    strings.TrimSpace(firstName + " " + lastName),
		OrganisationID: stringClaim(claims, "currentRelationshipId"),
		Role:           stringClaim(claims, "role"),
		Scope:          stringSliceClaim(claims, "scope"),
	}
	return profile, nil
}

// SessionRecordFromProfile builds the storable record for a profile and the
// token pair obtained at sign-in.
func SessionRecordFromProfile(profile *Profile, creds *TokenResponse) *SessionRecord {
	return &SessionRecord{
		SessionID:      profile.SessionID,
		SubjectID:      profile.SubjectID,
		DisplayName:    profile.DisplayName,
		OrganisationID: profile.OrganisationID,
		Role:           profile.Role,
		Scope:          profile.Scope,
		AccessToken:    creds.AccessToken,
		RefreshToken:   creds.RefreshToken,
		IssuedAt:       time.Now().Unix(),
	}
}

// ProfileFromRecord reconstructs the request-facing profile view of a
// stored session record.
func ProfileFromRecord(rec *SessionRecord) *Profile {
	return &Profile{
		SessionID:      rec.SessionID,
		DisplayName:    rec.DisplayName,
		SubjectID:      rec.SubjectID,
		OrganisationID: rec.OrganisationID,
		Role:           rec.Role,
		Scope:          rec.Scope,
	}
}

// stringClaim returns a claim value as a string, or "" when absent or not a
// string.
func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}

// stringSliceClaim returns a claim that may be a single string or a list.
func stringSliceClaim(claims jwt.MapClaims, name string) []string {
	switch value := claims[name].(type) {
	case string:
		if value == "" {
			return nil
		}
		return strings.Fields(value)
	case []interface{}:
		var out []string
		for _, v := range value {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// tokenExpiresWithin reports whether the token's exp claim falls within the
// next grace window. Tokens that cannot be decoded or carry no exp claim
// are treated as expired, which forces the refresh path rather than letting
// an unreadable token ride.
func tokenExpiresWithin(token string, grace time.Duration) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().Add(grace).After(exp.Time)
}

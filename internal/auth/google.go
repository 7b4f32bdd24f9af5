package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var ErrFederatedTokenInvalid = errors.New("federated identity token invalid")

// FederatedIdentity is what a verified federated sign-in tells us about the
// user.
type FederatedIdentity struct {
	Subject     string
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string
	PhotoURL    string
}

// FederatedVerifier checks a federated sign-in credential.
type FederatedVerifier interface {
	Verify(ctx context.Context, credential string) (*FederatedIdentity, error)
}

// GoogleVerifier validates Google ID tokens issued for clientID.
type GoogleVerifier struct {
	clientID string
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID}
}

func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (*FederatedIdentity, error) {
	payload, err := idtoken.Validate(ctx, credential, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFederatedTokenInvalid, err)
	}
	return identityFromClaims(payload.Subject, payload.Claims)
}

func identityFromClaims(subject string, claims map[string]interface{}) (*FederatedIdentity, error) {
	str := func(key string) string {
		s, _ := claims[key].(string)
		return s
	}

	email := str("email")
	if subject == "" || email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrFederatedTokenInvalid)
	}
	if verified, ok := claims["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrFederatedTokenInvalid)
	}

	return &FederatedIdentity{
		Subject:     subject,
		Email:       email,
		DisplayName: str("name"),
		GivenName:   str("given_name"),
		FamilyName:  str("family_name"),
		PhotoURL:    str("picture"),
	}, nil
}

package auth

import (
	"context"
	"strings"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// userFromRecord converts an auth_users record to an AuthUser.
func userFromRecord(rec entity.Record) grantdesk.AuthUser {
	role, ok := rec.Int("role")
	if !ok {
		role = int64(grantdesk.Guest)
	}
	return grantdesk.AuthUser{
		ID:         rec.ID(),
		Email:      rec.String("email"),
		Role:       grantdesk.Role(role),
		Provider:   rec.String("provider"),
		Password:   rec.String("password"),
		Created:    rec.Time(entity.FieldCreated),
		Modified:   rec.Time(entity.FieldUpdated),
		LastLogin:  rec.Time("last_login"),
		LastLogout: rec.Time("last_logout"),
	}
}

// clientUser converts a clients record to the AuthUser that represents a
// client logged in with an access code.
func clientUser(rec entity.Record) grantdesk.AuthUser {
	return grantdesk.AuthUser{
		ID:        rec.ID(),
		Email:     rec.String("email"),
		Name:      rec.String("name"),
		Role:      grantdesk.Client,
		Provider:  "access_code",
		Created:   rec.Time(entity.FieldCreated),
		Modified:  rec.Time(entity.FieldUpdated),
		LastLogin: rec.Time("last_login"),
	}
}

// publicClient returns a copy of a clients record that is safe to send to the
// client.
func publicClient(rec entity.Record) entity.Record {
	pub := rec.Clone()
	delete(pub, "access_code")
	return pub
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// userByEmail returns the auth_users record with the given email. Emails are
// stored normalized, so this is an exact match.
func (svc *Service) userByEmail(ctx context.Context, email string) (entity.Record, error) {
	recs, err := svc.Users.Filter(ctx, entity.Criteria{"email": normalizeEmail(email)}, entity.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) < 1 {
		return nil, grantdesk.NewError("no user with that email", grantdesk.ErrNotFound)
	}
	return recs[0], nil
}

// clientByEmail returns the clients record with the given email. Client
// records are written through the generic entity API and may not have a
// normalized email, so the comparison ignores case.
func (svc *Service) clientByEmail(ctx context.Context, email string) (entity.Record, error) {
	email = normalizeEmail(email)

	recs, err := svc.Clients.Search(ctx, "email", email)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if strings.EqualFold(strings.TrimSpace(rec.String("email")), email) {
			return rec, nil
		}
	}
	return nil, grantdesk.NewError("no client with that email", grantdesk.ErrNotFound)
}

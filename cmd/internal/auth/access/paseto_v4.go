package access

import (
	"errors"
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// PasetoV4Issuer issues PASETO v4.public tokens signed with Ed25519.
type PasetoV4Issuer struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Issuer parses the hex secret key from cfg.
func NewPasetoV4Issuer(cfg Config) (*PasetoV4Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: paseto secret key: %v", ErrConfig, err)
	}

	return &PasetoV4Issuer{
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		skew:   cfg.ClockSkew,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for other services.
func (i *PasetoV4Issuer) PublicKeyHex() string {
	return i.public.ExportHex()
}

func (i *PasetoV4Issuer) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, errors.New("access: subject id required")
	}

	// RFC3339 carries whole seconds; report the expiry the token actually holds.
	now = now.Truncate(time.Second)
	exp := now.Add(i.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(i.issuer)
	tok.SetSubject(sub.UserID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	if err := tok.Set("email", sub.Email); err != nil {
		return "", time.Time{}, fmt.Errorf("access: claim email: %w", err)
	}
	if err := tok.Set("given_name", sub.FirstName); err != nil {
		return "", time.Time{}, fmt.Errorf("access: claim given_name: %w", err)
	}
	if err := tok.Set("family_name", sub.LastName); err != nil {
		return "", time.Time{}, fmt.Errorf("access: claim family_name: %w", err)
	}
	if err := tok.Set("active", sub.Active); err != nil {
		return "", time.Time{}, fmt.Errorf("access: claim active: %w", err)
	}

	return tok.V4Sign(i.secret, nil), exp, nil
}

func (i *PasetoV4Issuer) Verify(token string, now time.Time) (Claims, error) {
	// Time rules are applied below so expiry and nbf can be told apart.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(i.issuer))

	parsed, err := p.ParseV4Public(i.public, token, nil)
	if err != nil {
		return Claims{}, verifyErr(ErrMalformed, err)
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, verifyErr(ErrMalformed, err)
	}
	nbf, _ := parsed.GetNotBefore()
	iat, _ := parsed.GetIssuedAt()

	if err := checkWindow(now, nbf, exp, i.skew); err != nil {
		return Claims{}, err
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, verifyErr(ErrMalformed, errors.New("missing sub"))
	}
	email, _ := parsed.GetString("email")
	given, _ := parsed.GetString("given_name")
	family, _ := parsed.GetString("family_name")
	var active bool
	if err := parsed.Get("active", &active); err != nil {
		return Claims{}, verifyErr(ErrMalformed, err)
	}

	return Claims{
		Subject: Subject{
			UserID:    sub,
			Email:     email,
			FirstName: given,
			LastName:  family,
			Active:    active,
		},
		Issuer:    i.issuer,
		IssuedAt:  iat,
		NotBefore: nbf,
		ExpiresAt: exp,
	}, nil
}

package tenant

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// DefaultRedirectURLTemplate is used when the gate has no redirect template.
const DefaultRedirectURLTemplate = "https://{subdomain}.localhost"

const (
	minCompanyNameLen = 2
	maxCompanyNameLen = 200
)

// Decision is the verdict of the validation gate.
type Decision string

const (
	DecisionValid            Decision = "valid"
	DecisionInvalid          Decision = "invalid"
	DecisionDuplicate        Decision = "duplicate"
	DecisionAlreadyOnboarded Decision = "alreadyOnboarded"
	// DecisionResume is returned when the caller owns a tenant whose
	// onboarding committed but never completed.
	DecisionResume Decision = "resume"
)

// Validation is the outcome of Gate.Validate.
type Validation struct {
	Decision Decision

	// Request is the normalized submission.
	Request        *onboarding.OnboardingRequest
	Type           onboarding.OnboardingType
	Plan           plan.Plan
	Subdomain      string
	CallerIdentity string

	// Tenant is the existing tenant for AlreadyOnboarded and Resume.
	Tenant      *onboarding.Tenant
	RedirectURL string

	Field   string
	Fields  map[string]string
	Message string
}

// Result renders the terminal decisions as a saga result. It returns nil for
// DecisionValid and DecisionResume.
func (v *Validation) Result() *onboarding.OnboardingResult {
	switch v.Decision {
	case DecisionAlreadyOnboarded:
		return &onboarding.OnboardingResult{
			Status:      onboarding.StatusAlreadyOnboarded,
			Success:     true,
			TenantID:    v.Tenant.ID,
			RedirectURL: v.RedirectURL,
		}
	case DecisionDuplicate:
		return &onboarding.OnboardingResult{
			Status: onboarding.StatusDuplicate,
			Failure: &onboarding.Failure{
				Kind:    onboarding.KindDuplicateRegistration,
				Message: v.Message,
				Field:   v.Field,
			},
		}
	case DecisionInvalid:
		return onboarding.FailedResult(&onboarding.Failure{
			Kind:    onboarding.KindValidationFailed,
			Message: v.Message,
			Fields:  v.Fields,
		})
	}
	return nil
}

// Gate rejects malformed or duplicate submissions before any side effect.
type Gate struct {
	store    *Store
	plans    *plan.Resolver
	redirect string
	log      *zap.Logger
}

// NewGate returns a gate resolving plans with plans. redirectTemplate may
// contain "{subdomain}".
func NewGate(store *Store, plans *plan.Resolver, redirectTemplate string, log *zap.Logger) *Gate {
	if redirectTemplate == "" {
		redirectTemplate = DefaultRedirectURLTemplate
	}
	return &Gate{
		store:    store,
		plans:    plans,
		redirect: redirectTemplate,
		log:      log,
	}
}

// RedirectURL returns where the admin of t is sent.
func (g *Gate) RedirectURL(t *onboarding.Tenant) string {
	return strings.ReplaceAll(g.redirect, "{subdomain}", t.Subdomain)
}

// Validate checks req and looks up conflicting tenants. It only reads. The
// error is reserved for storage faults; rejections are reported by Decision.
func (g *Gate) Validate(ctx context.Context, req *onboarding.OnboardingRequest) (*Validation, error) {
	if req == nil {
		return nil, ErrOnboardInvalid
	}

	v := g.checkFields(req)
	if v.Decision == DecisionInvalid {
		return v, nil
	}

	err := g.store.View(ctx, func(tx *sqlite.Tx) error {
		return g.checkConflicts(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (g *Gate) checkFields(req *onboarding.OnboardingRequest) *Validation {
	r := *req
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.AdminName = strings.TrimSpace(r.AdminName)
	r.AdminEmail = r.NormalizedEmail()
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Plan = strings.ToLower(strings.TrimSpace(r.Plan))
	r.Subdomain = NormalizeSubdomain(r.Subdomain)
	if r.Type == "" {
		r.Type = onboarding.OnboardingTrial
	}

	v := &Validation{Request: &r, Type: r.Type}
	fields := map[string]string{}

	if !r.Type.Valid() {
		fields["type"] = fmt.Sprintf("unknown onboarding type %q", r.Type)
	}

	switch {
	case r.CompanyName == "":
		fields["companyName"] = "is required"
	case len(r.CompanyName) > maxCompanyNameLen:
		fields["companyName"] = fmt.Sprintf("must be at most %d characters", maxCompanyNameLen)
	case r.Type == onboarding.OnboardingEnterprise && len(r.CompanyName) < minCompanyNameLen:
		fields["companyName"] = fmt.Sprintf("must be at least %d characters", minCompanyNameLen)
	}

	if r.AdminEmail == "" {
		fields["adminEmail"] = "is required"
	} else if addr, err := mail.ParseAddress(r.AdminEmail); err != nil || addr.Address != r.AdminEmail {
		fields["adminEmail"] = "is not a valid email address"
	}

	if r.AdminName == "" {
		if r.Type == onboarding.OnboardingFree && fields["adminEmail"] == "" {
			r.AdminName = r.AdminEmail[:strings.IndexByte(r.AdminEmail, '@')]
		} else {
			fields["adminName"] = "is required"
		}
	}

	if r.Subdomain != "" {
		if problem := ValidateSubdomain(r.Subdomain); problem != "" {
			fields["subdomain"] = problem
		}
	}

	caller, claimProblems := callerClaims(&r)
	for k, p := range claimProblems {
		fields[k] = p
	}
	v.CallerIdentity = caller

	if r.Type == onboarding.OnboardingFree {
		r.Plan = "free"
	}
	if r.Plan == "" {
		fields["plan"] = "is required"
	} else if p, err := g.plans.Resolve(r.Plan); err != nil {
		fields["plan"] = fmt.Sprintf("unknown plan %q", r.Plan)
	} else {
		switch {
		case r.Type == onboarding.OnboardingFree && !p.Free:
			fields["plan"] = "free onboarding requires a free plan"
		case r.Type == onboarding.OnboardingEnterprise && p.Free:
			fields["plan"] = "enterprise onboarding requires a paid plan"
		}
		v.Plan = p
	}

	if len(fields) > 0 {
		v.Decision = DecisionInvalid
		v.Fields = fields
		v.Message = "onboarding request is invalid"
		return v
	}
	v.Decision = DecisionValid
	return v
}

func (g *Gate) checkConflicts(ctx context.Context, tx *sqlite.Tx, v *Validation) error {
	r := v.Request

	t, err := g.store.FindTenantByAdminEmail(ctx, tx, r.AdminEmail)
	switch {
	case err == nil:
		sameCaller := v.CallerIdentity == "" || v.CallerIdentity == t.AdminExternalID
		v.Tenant = t
		switch {
		case t.OnboardingCompleted && sameCaller:
			v.Decision = DecisionAlreadyOnboarded
			v.RedirectURL = g.RedirectURL(t)
		case !t.OnboardingCompleted && sameCaller:
			v.Decision = DecisionResume
		case t.OnboardingCompleted:
			v.Tenant = nil
			v.Decision = DecisionDuplicate
			v.Field = "adminEmail"
			v.Message = "a tenant is already registered with this email"
		default:
			v.Tenant = nil
			v.Decision = DecisionDuplicate
			v.Field = "adminEmail"
			v.Message = "an onboarding for this email is incomplete; resume it with the identity that started it"
		}
		return nil
	case err != ErrTenantNotFound:
		return err
	}

	if r.Subdomain != "" {
		taken, err := g.store.SubdomainExists(ctx, tx, r.Subdomain)
		if err != nil {
			return err
		}
		if taken {
			v.Decision = DecisionDuplicate
			v.Field = "subdomain"
			v.Message = "subdomain is already in use"
			return nil
		}
		v.Subdomain = r.Subdomain
		return nil
	}

	sub, err := g.store.GenerateSubdomain(ctx, tx, r.CompanyName)
	if err != nil {
		return err
	}
	v.Subdomain = sub
	return nil
}

// CallerIdentity returns the caller's identity: the explicit ExternalID, or
// the subject of the bearer token.
func CallerIdentity(req *onboarding.OnboardingRequest) string {
	id, _ := callerClaims(req)
	return id
}

// callerClaims reads the caller's identity from req. The token signature is
// checked upstream; only its claims are read here.
func callerClaims(req *onboarding.OnboardingRequest) (string, map[string]string) {
	caller := strings.TrimSpace(req.ExternalID)
	if req.BearerToken == "" {
		return caller, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(req.BearerToken, claims); err != nil {
		return caller, map[string]string{"bearerToken": "is malformed"}
	}

	problems := map[string]string{}
	sub, _ := claims["sub"].(string)
	switch {
	case caller == "":
		caller = sub
	case sub != "" && sub != caller:
		problems["externalId"] = "does not match the bearer token subject"
	}
	if email, _ := claims["email"].(string); email != "" && !strings.EqualFold(email, strings.TrimSpace(req.AdminEmail)) {
		problems["adminEmail"] = "does not match the bearer token email"
	}
	return caller, problems
}

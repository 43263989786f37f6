package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds each call to the provider.
	DefaultTimeout = 10 * time.Second

	fallbackOrgPrefix      = "org_"
	fallbackIdentityPrefix = "fallback|"
)

// Operations reported in Result.Degraded.
const (
	OpCreateOrganization    = "createOrganization"
	OpCreateOrFindUser      = "createOrFindUser"
	OpAddUserToOrganization = "addUserToOrganization"
)

// Request describes the identities needed for one onboarding.
type Request struct {
	CompanyName string
	Subdomain   string
	AdminEmail  string
	AdminName   string
	// CallerIdentity is the caller's verified identity, reused as the admin identity.
	CallerIdentity string
	// OrganizationCode is a code obtained by an earlier attempt, reused as is.
	OrganizationCode string
}

// Identity is the admin identity at the provider.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	// Reused is set when the caller's own identity became the admin identity.
	Reused bool
}

// Result is the outcome of provisioning. It is always usable: when the
// provider failed, the identifiers are local fallbacks and UsedFallback is set.
type Result struct {
	OrganizationCode string
	ExternalID       string
	AdminIdentity    Identity
	UsedFallback     bool
	// Degraded lists the provider operations that failed.
	Degraded []string
}

// Provisioner creates or reuses the organization and admin identity of a new tenant.
type Provisioner struct {
	provider Provider
	log      *zap.Logger
	clock    clock.Clock
	timeout  time.Duration
	newUUID  func() string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithClock sets the clock used for fallback organization codes.
func WithClock(c clock.Clock) Option {
	return func(p *Provisioner) {
		p.clock = c
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(p *Provisioner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProvisioner returns a Provisioner over provider. A nil provider behaves as NopProvider.
func NewProvisioner(provider Provider, log *zap.Logger, opts ...Option) *Provisioner {
	if provider == nil {
		provider = NopProvider{}
	}
	p := &Provisioner{
		provider: provider,
		log:      log,
		clock:    clock.New(),
		timeout:  DefaultTimeout,
		newUUID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision runs both provisioning operations for req. It never fails.
func (p *Provisioner) Provision(ctx context.Context, req Request) *Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "identity.Provision")
	defer span.Finish()

	res := &Result{}

	code, ok := p.ProvisionOrganization(ctx, req.CompanyName, req.Subdomain, req.OrganizationCode)
	res.OrganizationCode = code
	if !ok {
		res.UsedFallback = true
		res.Degraded = append(res.Degraded, OpCreateOrganization)
	}

	admin, degraded := p.ProvisionOrUseAdminIdentity(ctx, req.CallerIdentity, req.AdminEmail, req.AdminName)
	res.AdminIdentity = admin
	res.ExternalID = admin.ExternalID
	if IsFallbackIdentity(admin.ExternalID) {
		res.UsedFallback = true
	}
	res.Degraded = append(res.Degraded, degraded...)

	if len(res.Degraded) > 0 {
		span.SetTag("degraded", strings.Join(res.Degraded, ","))
	}

	// The caller's identity is usually an implicit member of an organization
	// it created, so a failure here only degrades.
	if ok && !IsFallbackIdentity(admin.ExternalID) {
		if err := p.addOwner(ctx, res.OrganizationCode, admin.ExternalID); err != nil {
			p.log.Warn("Failed to add admin to organization",
				zap.String("organization_code", res.OrganizationCode),
				zap.String("external_id", admin.ExternalID),
				zap.Error(err))
			res.Degraded = append(res.Degraded, OpAddUserToOrganization)
		}
	}

	return res
}

// ProvisionOrganization creates the organization at the provider. When existing
// is set it is returned unchanged. On provider failure a fallback code
// org_<subdomain>_<unix millis> is returned and ok is false.
func (p *Provisioner) ProvisionOrganization(ctx context.Context, name, subdomain, existing string) (code string, ok bool) {
	if existing != "" {
		return existing, !IsFallbackOrganization(existing)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	code, err := p.provider.CreateOrganization(ctx, subdomain, name)
	if err == nil && code != "" {
		return code, true
	}
	if err == nil {
		err = fmt.Errorf("empty organization code")
	}

	code = FallbackOrganizationCode(subdomain, p.clock.Now())
	p.log.Warn("Identity provider unavailable, using fallback organization code",
		zap.String("subdomain", subdomain),
		zap.String("organization_code", code),
		zap.Error(err))
	return code, false
}

// ProvisionOrUseAdminIdentity reuses callerIdentity when set, otherwise creates or
// finds the user at the provider. On provider failure a fallback identity is
// returned together with the failed operation.
func (p *Provisioner) ProvisionOrUseAdminIdentity(ctx context.Context, callerIdentity, email, name string) (Identity, []string) {
	if callerIdentity != "" {
		return Identity{ExternalID: callerIdentity, Email: email, Name: name, Reused: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	id, err := p.provider.CreateOrFindUser(ctx, email, name)
	if err == nil && id != "" {
		return Identity{ExternalID: id, Email: email, Name: name}, nil
	}
	if err == nil {
		err = fmt.Errorf("empty user id")
	}

	id = fallbackIdentityPrefix + p.newUUID()
	p.log.Warn("Identity provider unavailable, using fallback admin identity",
		zap.String("email", email),
		zap.String("external_id", id),
		zap.Error(err))
	return Identity{ExternalID: id, Email: email, Name: name}, []string{OpCreateOrFindUser}
}

func (p *Provisioner) addOwner(ctx context.Context, orgCode, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.provider.AddUserToOrganization(ctx, orgCode, userID, OwnerRole)
}

// FallbackOrganizationCode is the locally generated organization code.
func FallbackOrganizationCode(subdomain string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d", fallbackOrgPrefix, subdomain, now.UnixMilli())
}

var fallbackOrgPattern = regexp.MustCompile(`^org_[a-z0-9-]+_[0-9]{10,}$`)

// IsFallbackOrganization reports whether code has the shape of a locally
// generated organization code.
func IsFallbackOrganization(code string) bool {
	return fallbackOrgPattern.MatchString(code)
}

// IsFallbackIdentity reports whether id was generated locally.
func IsFallbackIdentity(id string) bool {
	return strings.HasPrefix(id, fallbackIdentityPrefix)
}

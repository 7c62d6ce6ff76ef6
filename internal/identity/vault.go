// Package identity generates synthetic, provably non-real personas for
// interacting with target sites. Every value is drawn from ranges that
// cannot collide with a real person: the email domain is operator
// controlled, dates of birth land on adults only, and passwords are
// random per identity.
package identity

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

// DefaultProbeDomain is the operator-controlled email domain. Mail sent to
// it lands in a catch-all inbox so verification flows can be observed.
const DefaultProbeDomain = "lh-probe.net"

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%"

// Vault produces internally consistent synthetic identities.
type Vault struct {
	probeDomain string
	logger      *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Vault.
type Option func(*Vault)

// WithProbeDomain overrides the email domain used for generated personas.
func WithProbeDomain(domain string) Option {
	return func(v *Vault) { v.probeDomain = domain }
}

// WithSeed makes generation deterministic, for tests.
func WithSeed(seed int64) Option {
	return func(v *Vault) { v.rng = rand.New(rand.NewSource(seed)) }
}

// NewVault creates a Vault with the default probe domain.
func NewVault(opts ...Option) *Vault {
	v := &Vault{
		probeDomain: DefaultProbeDomain,
		logger:      observability.GetLogger().Named("identity"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Generate builds one complete synthetic identity for the locale. Only
// "en_US" name pools ship today; other locales fall back to them with the
// locale recorded on the identity.
func (v *Vault) Generate(locale string) (schemas.Identity, error) {
	if locale == "" {
		locale = "en_US"
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	first := firstNames[v.rng.Intn(len(firstNames))]
	last := lastNames[v.rng.Intn(len(lastNames))]
	username := fmt.Sprintf("%s.%s%d", strings.ToLower(first), strings.ToLower(last), 10+v.rng.Intn(90))

	primary := v.randomPassword(16)
	digits8 := v.randomDigits(8)
	digits12 := v.randomDigits(12)

	dob := time.Now().AddDate(-21-v.rng.Intn(50), 0, -v.rng.Intn(365))

	id := schemas.Identity{
		ID:             uuid.NewString(),
		Locale:         locale,
		FirstName:      first,
		LastName:       last,
		Email:          username + "@" + v.probeDomain,
		Phone:          fmt.Sprintf("+1-555-%03d-%04d", v.rng.Intn(1000), v.rng.Intn(10000)),
		Address:        fmt.Sprintf("%d %s %s", 100+v.rng.Intn(9900), streetNames[v.rng.Intn(len(streetNames))], streetSuffixes[v.rng.Intn(len(streetSuffixes))]),
		City:           cities[v.rng.Intn(len(cities))],
		PostalCode:     fmt.Sprintf("%05d", 10000+v.rng.Intn(89999)),
		Country:        "US",
		DateOfBirth:    dob.Format("2006-01-02"),
		Username:       username,
		CryptoUsername: fmt.Sprintf("Cx_%s%d", strings.ToLower(first), 10+v.rng.Intn(90)),
		Password:       primary,
		PasswordVariants: map[string]string{
			"default":        primary,
			"digits_8":       digits8,
			"digits_12":      digits12,
			"alphanumeric_8": "Ax" + digits8[:6],
			"simple_10":      "Pass" + digits8[:6],
		},
	}

	v.logger.Debug("Generated synthetic identity",
		zap.String("identity_id", id.ID),
		zap.String("locale", locale),
		zap.String("email_domain", v.probeDomain))

	return id, nil
}

// GenerateBatch returns count identities.
func (v *Vault) GenerateBatch(locale string, count int) ([]schemas.Identity, error) {
	out := make([]schemas.Identity, 0, count)
	for i := 0; i < count; i++ {
		id, err := v.Generate(locale)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (v *Vault) randomPassword(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordAlphabet[v.rng.Intn(len(passwordAlphabet))]
	}
	return string(b)
}

func (v *Vault) randomDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + v.rng.Intn(10))
	}
	return string(b)
}

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
	"Linda", "David", "Elizabeth", "William", "Barbara", "Richard", "Susan",
	"Joseph", "Jessica", "Thomas", "Karen", "Daniel", "Sarah", "Matthew",
	"Lisa", "Anthony", "Nancy", "Mark", "Sandra", "Steven", "Ashley",
	"Andrew", "Emily",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
	"Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
	"Lee", "Thompson", "White", "Harris", "Clark", "Lewis", "Walker",
	"Young", "Hall", "Allen",
}

var streetNames = []string{
	"Oak", "Maple", "Cedar", "Pine", "Elm", "Washington", "Lake", "Hill",
	"Park", "Main", "Walnut", "Chestnut", "Spring", "River", "Sunset",
}

var streetSuffixes = []string{"St", "Ave", "Blvd", "Dr", "Ln", "Ct", "Way"}

var cities = []string{
	"Springfield", "Franklin", "Clinton", "Greenville", "Bristol",
	"Fairview", "Salem", "Madison", "Georgetown", "Arlington", "Ashland",
	"Burlington", "Manchester", "Milton", "Newport",
}

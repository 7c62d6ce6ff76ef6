// File: api/schemas/identity.go
package schemas

import "strings"

// Identity is a synthetic, clearly non-real persona used to interact with a
// target site. Playbook templates and batch form fills resolve their values
// from it. None of the fields ever belong to a real person.
type Identity struct {
	ID               string            `json:"id"`
	Locale           string            `json:"locale"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	Address          string            `json:"address"`
	City             string            `json:"city"`
	PostalCode       string            `json:"postal_code"`
	Country          string            `json:"country"`
	DateOfBirth      string            `json:"date_of_birth"`
	Username         string            `json:"username"`
	CryptoUsername   string            `json:"crypto_username"`
	Password         string            `json:"password"`
	PasswordVariants map[string]string `json:"password_variants"`
}

// FullName joins first and last name.
func (i Identity) FullName() string { return i.FirstName + " " + i.LastName }

// Field resolves a dotted field path like "email" or
// "password_variants.digits_8". Unknown paths return ("", false) so callers
// can leave the placeholder untouched and log it.
func (i Identity) Field(path string) (string, bool) {
	if rest, ok := strings.CutPrefix(path, "password_variants."); ok {
		v, ok := i.PasswordVariants[rest]
		return v, ok
	}
	switch path {
	case "first_name":
		return i.FirstName, true
	case "last_name":
		return i.LastName, true
	case "full_name":
		return i.FullName(), true
	case "email":
		return i.Email, true
	case "phone":
		return i.Phone, true
	case "address":
		return i.Address, true
	case "city":
		return i.City, true
	case "postal_code":
		return i.PostalCode, true
	case "country":
		return i.Country, true
	case "date_of_birth":
		return i.DateOfBirth, true
	case "username":
		return i.Username, true
	case "crypto_username":
		return i.CryptoUsername, true
	case "password":
		return i.Password, true
	}
	return "", false
}

// IdentityProvider generates synthetic identities for a locale.
type IdentityProvider interface {
	Generate(locale string) (Identity, error)
}

package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_CompleteAndConsistent(t *testing.T) {
	v := NewVault(WithSeed(1))

	id, err := v.Generate("en_US")
	require.NoError(t, err)

	assert.NotEmpty(t, id.ID)
	assert.NotEmpty(t, id.FirstName)
	assert.NotEmpty(t, id.LastName)
	assert.Equal(t, id.FirstName+" "+id.LastName, id.FullName())
	assert.True(t, strings.HasSuffix(id.Email, "@"+DefaultProbeDomain),
		"email must land on the probe domain, got %s", id.Email)
	assert.Contains(t, id.Email, strings.ToLower(id.FirstName))
	assert.Len(t, id.PasswordVariants["digits_8"], 8)
	assert.Len(t, id.PasswordVariants["digits_12"], 12)
	assert.Equal(t, id.Password, id.PasswordVariants["default"])
	assert.True(t, strings.HasPrefix(id.CryptoUsername, "Cx_"))
}

func TestGenerate_FieldResolution(t *testing.T) {
	v := NewVault(WithSeed(2))
	id, err := v.Generate("")
	require.NoError(t, err)

	got, ok := id.Field("email")
	require.True(t, ok)
	assert.Equal(t, id.Email, got)

	got, ok = id.Field("password_variants.digits_8")
	require.True(t, ok)
	assert.Equal(t, id.PasswordVariants["digits_8"], got)

	_, ok = id.Field("no_such_field")
	assert.False(t, ok)
	_, ok = id.Field("password_variants.no_such_variant")
	assert.False(t, ok)
}

func TestGenerate_DeterministicWithSeed(t *testing.T) {
	a, err := NewVault(WithSeed(42)).Generate("en_US")
	require.NoError(t, err)
	b, err := NewVault(WithSeed(42)).Generate("en_US")
	require.NoError(t, err)

	assert.Equal(t, a.FirstName, b.FirstName)
	assert.Equal(t, a.Password, b.Password)
	assert.NotEqual(t, a.ID, b.ID, "uuid is always fresh")
}

func TestGenerate_ProbeDomainOverride(t *testing.T) {
	v := NewVault(WithSeed(3), WithProbeDomain("example.test"))
	id, err := v.Generate("en_US")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id.Email, "@example.test"))
}

func TestGenerateBatch(t *testing.T) {
	v := NewVault(WithSeed(4))
	ids, err := v.GenerateBatch("en_US", 5)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id.ID])
		seen[id.ID] = true
	}
}

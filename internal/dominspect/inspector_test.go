package dominspect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

func newTestInspector() *Inspector { return NewInspector(75, 40) }

const registerPageHTML = `
<html><body>
  <a href="/signup">Sign Up</a>
  <form id="reg-form">
    <input type="email" name="email">
    <input type="password" name="password">
    <button type="submit">Create Account</button>
  </form>
</body></html>`

func TestScanFindRegister_FormAndLink(t *testing.T) {
	scan, err := ScanFindRegister(registerPageHTML, "https://scamsite.top/signup")
	require.NoError(t, err)

	assert.True(t, scan.HasRegistrationForm)
	assert.Equal(t, "#reg-form", scan.FormSelector)
	assert.Contains(t, scan.FieldSummary, "password")
	require.NotEmpty(t, scan.RegisterLinks)
	assert.Equal(t, `a[href="/signup"]`, scan.RegisterLinks[0].Selector)
	assert.True(t, scan.URLIsRegisterPage)
}

func TestScanFindRegister_FormlessPage(t *testing.T) {
	html := `<html><body><div class="login-box">
		<input type="text" name="user"><input type="password" name="pw">
	</div></body></html>`
	scan, err := ScanFindRegister(html, "https://scamsite.top/")
	require.NoError(t, err)
	assert.True(t, scan.HasRegistrationForm)
	assert.Equal(t, `input[type="password"]`, scan.FormSelector)
}

// A visible registration form plus a register link scores 100 and must
// resolve without any reasoning call.
func TestInspect_FindRegister_Direct(t *testing.T) {
	scan, err := ScanFindRegister(registerPageHTML, "https://scamsite.top/signup")
	require.NoError(t, err)

	insp := newTestInspector().Inspect(schemas.StateFindRegister, scan, time.Millisecond)
	assert.Equal(t, OutcomeDirect, insp.Outcome)
	assert.Equal(t, 100, insp.Confidence)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionDone, insp.DirectAction.Type, "form on screen means proceed to filling")
}

// A lone register link scores exactly 40. On the boundary the cheaper
// tier wins, so this is assisted, not fallback.
func TestInspect_FindRegister_AssistedOnBoundary(t *testing.T) {
	html := `<html><body><a href="/join">Join Now</a></body></html>`
	scan, err := ScanFindRegister(html, "https://scamsite.top/")
	require.NoError(t, err)

	insp := newTestInspector().Inspect(schemas.StateFindRegister, scan, 0)
	assert.Equal(t, 40, insp.Confidence)
	assert.Equal(t, OutcomeAssisted, insp.Outcome)
	assert.Nil(t, insp.DirectAction)
	assert.Contains(t, insp.ContextSummary, "register_link_found")
}

func TestInspect_FindRegister_Fallback(t *testing.T) {
	html := `<html><body><p>Welcome to our site.</p></body></html>`
	scan, err := ScanFindRegister(html, "https://scamsite.top/")
	require.NoError(t, err)

	insp := newTestInspector().Inspect(schemas.StateFindRegister, scan, 0)
	assert.Equal(t, 0, insp.Confidence)
	assert.Equal(t, OutcomeFallback, insp.Outcome)
}

func TestInspect_NavigateDeposit_AlreadyThere(t *testing.T) {
	html := `<html><body><a href="/deposit" id="dep">Deposit</a></body></html>`
	scan, err := ScanNavigateDeposit(html, "https://scamsite.top/deposit")
	require.NoError(t, err)

	insp := newTestInspector().Inspect(schemas.StateNavDeposit, scan, 0)
	assert.Equal(t, OutcomeDirect, insp.Outcome)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionDone, insp.DirectAction.Type,
		"url match means we are on the deposit page; clicking again loops")
}

func TestInspect_NavigateDeposit_LinkAndClassAssist(t *testing.T) {
	html := `<html><body>
		<a href="/account/topup" id="topup-link">Top Up</a>
		<div class="deposit-panel">...</div>
	</body></html>`
	scan, err := ScanNavigateDeposit(html, "https://scamsite.top/home")
	require.NoError(t, err)

	insp := newTestInspector().Inspect(schemas.StateNavDeposit, scan, 0)
	assert.Equal(t, 60, insp.Confidence, "link 40 + class match 20")
	assert.Equal(t, OutcomeAssisted, insp.Outcome)
	assert.Contains(t, insp.ContextSummary, "deposit_link_found")
	assert.Contains(t, insp.ContextSummary, "#topup-link")
}

// CHECK_EMAIL is always decided structurally, even with no signals.
func TestInspect_CheckEmail_AlwaysDirect(t *testing.T) {
	i := newTestInspector()

	verify := ScanCheckEmail("Please verify your email to continue", "https://scamsite.top/welcome")
	insp := i.Inspect(schemas.StateCheckEmail, verify, 0)
	require.Equal(t, OutcomeDirect, insp.Outcome)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionStuck, insp.DirectAction.Type)

	dash := ScanCheckEmail("Welcome back! Account overview. Balance: 0.00", "https://scamsite.top/dashboard")
	insp = i.Inspect(schemas.StateCheckEmail, dash, 0)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionDone, insp.DirectAction.Type)

	ambiguous := ScanCheckEmail("some unrelated text", "https://scamsite.top/home")
	insp = i.Inspect(schemas.StateCheckEmail, ambiguous, 0)
	require.Equal(t, OutcomeDirect, insp.Outcome)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionDone, insp.DirectAction.Type, "ambiguous defaults to proceed")
}

func TestInspect_DashboardBeatsVerifyURL(t *testing.T) {
	scan := ScanCheckEmail("My Account dashboard", "https://scamsite.top/confirm")
	insp := newTestInspector().Inspect(schemas.StateCheckEmail, scan, 0)
	require.NotNil(t, insp.DirectAction)
	assert.Equal(t, schemas.ActionDone, insp.DirectAction.Type)
}

func TestInspect_UnknownStateFallsBack(t *testing.T) {
	insp := newTestInspector().Inspect(schemas.StateFillRegister, &ScanResult{}, 0)
	assert.Equal(t, OutcomeFallback, insp.Outcome)
}

package playbook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// fakeDriver records dispatched actions and fails on demand.
type fakeDriver struct {
	calls    []string
	failOn   map[string]int // "click:#sel" -> remaining failures
	typedVal map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: map[string]int{}, typedVal: map[string]string{}}
}

func (d *fakeDriver) do(key string) error {
	d.calls = append(d.calls, key)
	if n, ok := d.failOn[key]; ok && n > 0 {
		d.failOn[key] = n - 1
		return errors.New("element not found")
	}
	return nil
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error { return d.do("navigate:" + url) }
func (d *fakeDriver) Observe(context.Context, bool) (*schemas.PageObservation, error) {
	return &schemas.PageObservation{}, nil
}
func (d *fakeDriver) Click(_ context.Context, sel string) error { return d.do("click:" + sel) }
func (d *fakeDriver) ClickByText(_ context.Context, text string) error {
	return d.do("clicktext:" + text)
}
func (d *fakeDriver) TypeText(_ context.Context, sel, val string) error {
	d.typedVal[sel] = val
	return d.do("type:" + sel)
}
func (d *fakeDriver) SetValue(_ context.Context, sel, val string) error {
	d.typedVal[sel] = val
	return d.do("set:" + sel)
}
func (d *fakeDriver) ReadValue(_ context.Context, sel string) (string, error) {
	return d.typedVal[sel], nil
}
func (d *fakeDriver) SelectOption(_ context.Context, sel, val string) error {
	return d.do("select:" + sel)
}
func (d *fakeDriver) Scroll(_ context.Context, px int) error {
	return d.do(fmt.Sprintf("scroll:%d", px))
}
func (d *fakeDriver) DismissOverlays(context.Context) error { return nil }
func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	return "https://example.test", nil
}
func (d *fakeDriver) Close() error { return nil }

func testIdentity() schemas.Identity {
	return schemas.Identity{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane.doe42@lh-probe.net",
		Password:  "S3cretPassw0rd!!",
		PasswordVariants: map[string]string{
			"digits_8": "12345678",
		},
	}
}

func newTestExecutor(d *fakeDriver, extract ExtractFunc) *Executor {
	e := NewExecutor(d, testIdentity(), extract)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	d := newFakeDriver()
	e := newTestExecutor(d, nil)

	pb := &Playbook{
		ID:         "demo_v1",
		URLPattern: `example\.test`,
		Enabled:    true,
		Steps: []Step{
			{Action: schemas.ActionNavigate, Value: "https://example.test/register"},
			{Action: schemas.ActionTypeText, Selector: "#email", Value: "{identity.email}"},
			{Action: schemas.ActionClick, Selector: "#submit"},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.CompletedSteps)
	assert.False(t, res.FellBack)
	assert.Equal(t, "jane.doe42@lh-probe.net", d.typedVal["#email"],
		"template must resolve before typing")
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	d := newFakeDriver()
	d.failOn["click:#submit"] = 2
	e := newTestExecutor(d, nil)

	pb := &Playbook{
		ID:         "retry_v1",
		URLPattern: `.`,
		Enabled:    true,
		Steps: []Step{
			{Action: schemas.ActionClick, Selector: "#submit", RetryOnFailure: 3},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	assert.True(t, res.Success)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, 3, res.StepResults[0].Attempts)
}

// A failing step with fallback enabled hands the session back to the
// cascade and records where it stopped.
func TestExecute_FallbackAtSecondStep(t *testing.T) {
	d := newFakeDriver()
	d.failOn["click:#missing"] = 99
	e := newTestExecutor(d, nil)

	pb := &Playbook{
		ID:            "fallback_v1",
		URLPattern:    `.`,
		Enabled:       true,
		FallbackToLLM: true,
		Steps: []Step{
			{Action: schemas.ActionNavigate, Value: "https://example.test"},
			{Action: schemas.ActionClick, Selector: "#missing", FallbackToLLM: true},
			{Action: schemas.ActionClick, Selector: "#never-reached"},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	assert.False(t, res.Success)
	assert.True(t, res.FellBack)
	assert.Contains(t, res.FallbackReason, "step 2")
	assert.Equal(t, 1, res.CompletedSteps)
	assert.NotContains(t, d.calls, "click:#never-reached")
}

func TestExecute_FailureWithoutFallbackAborts(t *testing.T) {
	d := newFakeDriver()
	d.failOn["click:#gone"] = 99
	e := newTestExecutor(d, nil)

	pb := &Playbook{
		ID:         "abort_v1",
		URLPattern: `.`,
		Enabled:    true,
		Steps: []Step{
			{Action: schemas.ActionClick, Selector: "#gone"},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	assert.False(t, res.Success)
	assert.False(t, res.FellBack)
	assert.Contains(t, res.Error, "without fallback")
}

func TestExecute_ExtractStepInvokesHook(t *testing.T) {
	d := newFakeDriver()
	called := 0
	e := newTestExecutor(d, func(context.Context) error {
		called++
		return nil
	})

	pb := &Playbook{
		ID:         "extract_v1",
		URLPattern: `.`,
		Enabled:    true,
		Steps: []Step{
			{Action: schemas.ActionExtract},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	assert.True(t, res.Success)
	assert.Equal(t, 1, called)
}

func TestExecute_RedactsTypedValues(t *testing.T) {
	d := newFakeDriver()
	e := newTestExecutor(d, nil)

	pb := &Playbook{
		ID:         "redact_v1",
		URLPattern: `.`,
		Enabled:    true,
		Steps: []Step{
			{Action: schemas.ActionTypeText, Selector: "#pw", Value: "{identity.password}"},
		},
	}
	require.NoError(t, pb.Validate())

	res := e.Execute(context.Background(), pb, "https://example.test")
	require.Len(t, res.StepResults, 1)
	assert.NotContains(t, res.StepResults[0].Value, "S3cretPassw0rd")
	assert.Contains(t, res.StepResults[0].Value, "***")
}

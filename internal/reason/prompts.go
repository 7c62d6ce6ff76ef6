package reason

import (
	"fmt"
	"strings"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// pageTextLimit bounds the visible-text excerpt included in a prompt.
const pageTextLimit = 3000

// systemPrompt drives every single-action reasoning call. The response
// contract at the bottom is what parseAction expects.
const systemPrompt = `You are a web automation agent investigating confirmed cryptocurrency scam websites.
Your task is to navigate each site, register a throwaway account, find the deposit/invest section,
and extract all cryptocurrency wallet addresses shown.

You operate on a snapshot of the current page (visible text, a numbered inventory of interactive
elements, and in vision mode a screenshot) and return ONE structured action at a time.

## Current Objective by State

- LOAD_SITE: The page should be loading. Verify it loaded correctly.
- FIND_REGISTER: Find and navigate to the registration form. If you can already see a registration
FORM with input fields (email, username, password), signal 'done' immediately to proceed to filling
it out. If you only see a link or button to get to the registration page, click it.
- FILL_REGISTER: Fill the registration form using the provided identity data. Do NOT scroll to survey
the form first. Start with the most important visible fields (email/username, password, confirm
password). Type directly into fields by their CSS selector; do not waste an action clicking a field
before typing into it. If it is unclear which fields are required, fill the obvious ones and signal
'done' to attempt submission; form errors will reveal what is missing. Skip clearly optional fields
(wallet addresses, social media handles, referral codes without asterisks).
  PASSWORD FIELDS: read each field's placeholder text first. It often carries format requirements
like "8-12 digits" or "6 digits only", and different password fields on the same form (login vs fund
password) may require different formats. Pick the matching password_variant for EACH field.
- SUBMIT_REGISTER: Click the submit/register button. Afterwards check carefully for error messages,
validation warnings or alert banners, especially at the top of the page. If you see ANY error, do not
signal 'done'; describe the error and fix the field that caused it. Some forms clear all fields after
a failed submission. When FORM FIELD STATUS is provided, trust it over the screenshot and only refill
fields it shows as EMPTY. Signal 'done' only when registration clearly succeeded.
- CHECK_EMAIL_VERIFICATION: Check whether the site requires email verification. Look for phrases
like "verify your email", "check your inbox", "confirmation link".
- NAVIGATE_DEPOSIT: Find the deposit/invest/fund section. Look for "Deposit", "Invest", "Fund",
"Top Up", "Add Funds", "Recharge", "Buy".
- EXTRACT_WALLETS: You are on or near the deposit page. Find and extract cryptocurrency wallet
addresses. You may need to click through cryptocurrency tabs or network options to reveal each one.

## Response Format

Respond with valid JSON only:
{
    "action": "click|type|select|navigate|scroll|wait|done|stuck",
    "selector": "CSS selector or visible text of the target element",
    "value": "text to type, option to select, URL, or scroll delta",
    "rationale": "brief explanation",
    "confidence": 0.0 to 1.0
}

## Rules

- Return exactly ONE action per response.
- Prefer selectors from the numbered element inventory; fall back to visible button text.
- If a security question is required, pick any answer and remember it.
- If cryptocurrency wallet addresses are visible, put them in "value" as a JSON array of
  {"token_label", "token_symbol", "network_label", "network_short", "wallet_address"} objects and
  set action to "done".
- If the site demands email verification, set action to "stuck" and explain.
- If a form rejects because a referral/invitation code is missing, set action to "stuck".
- If you truly cannot determine what to do, set action to "stuck".`

// batchFillAddendum switches the contract to a one-shot action array for
// form filling.
const batchFillAddendum = `

## BATCH MODE

Instead of ONE action, return ALL form-fill actions as a bare JSON array. Include "type", "select"
and "click" (checkboxes only) actions; never scroll, navigate, wait or done.

[
    {"action": "type", "selector": "...", "value": "...", "rationale": "...", "confidence": 0.9},
    {"action": "select", "selector": "...", "value": "...", "rationale": "...", "confidence": 0.9},
    {"action": "click", "selector": "input[type='checkbox']", "value": "", "rationale": "accept terms", "confidence": 0.9}
]

Fill every visible required field in one response, including all <select> dropdowns, and check any
"I agree" checkboxes. Use the 'default' password variant unless a field's placeholder demands a
specific format (digits variants for digit-only hints).`

// buildUserPrompt renders the page snapshot into the textual request body.
func buildUserPrompt(req schemas.PageRequest) string {
	var b strings.Builder

	if req.Intent != "" {
		fmt.Fprintf(&b, "Current state: %s\n", req.Intent)
	}
	if req.PageText != "" {
		text := req.PageText
		if len(text) > pageTextLimit {
			text = text[:pageTextLimit]
		}
		fmt.Fprintf(&b, "\nVisible page text:\n%s\n", text)
	}
	if len(req.Elements) > 0 {
		b.WriteString("\nInteractive elements:\n")
		for _, el := range req.Elements {
			b.WriteString(formatElement(el))
			b.WriteByte('\n')
		}
	}
	if req.ExtraContext != "" {
		fmt.Fprintf(&b, "\n%s\n", req.ExtraContext)
	}
	b.WriteString("\nWhat is the next action? Respond with JSON only.")
	return b.String()
}

func formatElement(el schemas.InteractiveElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  [%d] <%s", el.Index, el.Tag)
	if el.ElementType != "" {
		fmt.Fprintf(&b, " type=%q", el.ElementType)
	}
	if el.Name != "" {
		fmt.Fprintf(&b, " name=%q", el.Name)
	}
	b.WriteString(">")
	if el.Label != "" {
		fmt.Fprintf(&b, " label=%q", el.Label)
	}
	if el.Placeholder != "" {
		fmt.Fprintf(&b, " [placeholder: %q]", el.Placeholder)
	}
	if el.Text != "" {
		fmt.Fprintf(&b, " text=%q", el.Text)
	}
	if el.Required {
		b.WriteString(" required")
	}
	fmt.Fprintf(&b, " selector=%q", el.Selector)
	return b.String()
}

// identityContext renders the synthetic identity for prompt injection.
func identityContext(id schemas.Identity) string {
	var b strings.Builder
	b.WriteString("IDENTITY DATA (synthetic, use for all form fields):\n")
	fmt.Fprintf(&b, "  first_name: %s\n", id.FirstName)
	fmt.Fprintf(&b, "  last_name: %s\n", id.LastName)
	fmt.Fprintf(&b, "  full_name: %s\n", id.FullName())
	fmt.Fprintf(&b, "  email: %s\n", id.Email)
	fmt.Fprintf(&b, "  phone: %s\n", id.Phone)
	fmt.Fprintf(&b, "  username: %s\n", id.Username)
	fmt.Fprintf(&b, "  date_of_birth: %s\n", id.DateOfBirth)
	fmt.Fprintf(&b, "  country: %s\n", id.Country)
	b.WriteString("  password_variants:\n")
	for name, v := range id.PasswordVariants {
		fmt.Fprintf(&b, "    %s: %s\n", name, v)
	}
	return b.String()
}

// Package dominspect scores pages with cheap structural checks before any
// reasoning call is made. A scan parses the page snapshot, collects
// weighted signals, and either produces a deterministic action, context
// for the reasoner prompt, or nothing.
package dominspect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkHit is a clickable element whose text matched a keyword.
type LinkHit struct {
	Text     string `json:"text"`
	Selector string `json:"selector"`
	Keyword  string `json:"keyword"`
	Href     string `json:"href,omitempty"`
}

// ScanResult is the raw evidence a page scan collects, before scoring.
type ScanResult struct {
	CurrentURL string

	// Registration flow evidence.
	HasRegistrationForm bool
	FormSelector        string
	FieldSummary        string
	RegisterLinks       []LinkHit
	URLIsRegisterPage   bool
	ModalHasForm        bool
	ModalSelector       string

	// Deposit flow evidence.
	DepositLinks         []LinkHit
	URLIsDepositPage     bool
	DepositClassMatch    bool
	DepositClassSelector string

	// Email verification evidence.
	EmailVerifyTextFound bool
	EmailVerifySnippet   string
	DashboardTextFound   bool
	DashboardSnippet     string
	URLIsVerifyPage      bool
}

var registerKeywords = []string{
	"register", "sign up", "signup", "create account", "join now",
	"get started", "open account", "registrar", "registrarse",
	"crear cuenta", "cadastro", "cadastrar", "criar conta",
	"注册", "立即注册", "регистрация", "зарегистрироваться",
	"đăng ký", "สมัครสมาชิก",
}

var depositKeywords = []string{
	"deposit", "recharge", "fund", "top up", "topup", "add funds",
	"invest", "buy", "add money",
	"充值", "存款", "入金", "depositar", "recargar", "fondos",
	"пополнить", "депозит", "nạp tiền", "ฝากเงิน",
}

var emailVerifyPatterns = []string{
	"verify your email", "check your email", "verification link",
	"confirm your email", "email confirmation", "check your inbox",
	"we sent you", "we've sent", "activation link", "activate your account",
	"验证邮件", "邮箱验证", "verifica tu email", "verificar correo",
}

var dashboardPatterns = []string{
	"dashboard", "welcome back", "my account", "account overview",
	"portfolio", "balance", "my wallet", "trading",
}

var (
	registerURLRe = regexp.MustCompile(`(?i)/(register|signup|sign-up|join|create|account/new)`)
	depositURLRe  = regexp.MustCompile(`(?i)/(deposit|recharge|fund|invest|top-?up|wallet/add)`)
	verifyURLRe   = regexp.MustCompile(`(?i)/(verify|confirm|activate|email-verification)`)
)

const maxLinkHits = 5

// ScanFindRegister parses the page HTML and collects registration evidence.
func ScanFindRegister(html, currentURL string) (*ScanResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	res := &ScanResult{CurrentURL: currentURL}
	res.URLIsRegisterPage = registerURLRe.MatchString(currentURL)

	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		hasPw := form.Find(`input[type="password"]`).Length() > 0
		hasID := form.Find(`input[type="email"], input[type="text"], input[type="tel"]`).Length() > 0
		if !hasPw || !hasID {
			return true
		}
		res.HasRegistrationForm = true
		if id, ok := form.Attr("id"); ok && id != "" {
			res.FormSelector = "#" + id
		} else {
			res.FormSelector = "form"
		}
		var fields []string
		for _, f := range []struct{ sel, name string }{
			{`input[type="password"]`, "password"},
			{`input[type="email"]`, "email"},
			{`input[type="text"]`, "text"},
			{`input[type="tel"]`, "phone"},
		} {
			if form.Find(f.sel).Length() > 0 {
				fields = append(fields, f.name)
			}
		}
		res.FieldSummary = strings.Join(fields, ", ")
		return false
	})

	// Formless pages: a password input next to an email/text input inside
	// the same container still counts.
	if !res.HasRegistrationForm {
		doc.Find(`input[type="password"]`).EachWithBreak(func(_ int, pw *goquery.Selection) bool {
			container := pw.Closest(`div, section, main`)
			if container.Length() == 0 {
				return true
			}
			if container.Find(`input[type="email"], input[type="text"]`).Length() > 0 {
				res.HasRegistrationForm = true
				res.FormSelector = `input[type="password"]`
				res.FieldSummary = "password, email/text (formless)"
				return false
			}
			return true
		})
	}

	res.RegisterLinks = collectLinkHits(doc, registerKeywords)

	doc.Find(`[role="dialog"], .modal, [class*="modal"], [class*="popup"]`).
		EachWithBreak(func(_ int, modal *goquery.Selection) bool {
			if modal.Find(`input[type="password"]`).Length() == 0 {
				return true
			}
			res.ModalHasForm = true
			if id, ok := modal.Attr("id"); ok && id != "" {
				res.ModalSelector = "#" + id
			} else {
				res.ModalSelector = `[role="dialog"]`
			}
			return false
		})

	return res, nil
}

// ScanNavigateDeposit parses the page HTML and collects deposit evidence.
func ScanNavigateDeposit(html, currentURL string) (*ScanResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	res := &ScanResult{CurrentURL: currentURL}
	res.URLIsDepositPage = depositURLRe.MatchString(currentURL)
	res.DepositLinks = collectLinkHits(doc, depositKeywords)

	match := doc.Find(`[class*="deposit"], [class*="recharge"], [class*="topup"], [id*="deposit"]`).First()
	if match.Length() > 0 {
		res.DepositClassMatch = true
		if id, ok := match.Attr("id"); ok && id != "" {
			res.DepositClassSelector = "#" + id
		} else {
			res.DepositClassSelector = goquery.NodeName(match) + `[class*="deposit"]`
		}
	}

	return res, nil
}

// ScanCheckEmail inspects visible page text for verification and dashboard
// markers. It works on text rather than markup because the signal phrases
// can appear in any element.
func ScanCheckEmail(visibleText, currentURL string) *ScanResult {
	res := &ScanResult{CurrentURL: currentURL}
	lower := strings.ToLower(visibleText)

	res.URLIsVerifyPage = verifyURLRe.MatchString(currentURL)

	for _, p := range emailVerifyPatterns {
		if idx := strings.Index(lower, p); idx != -1 {
			res.EmailVerifyTextFound = true
			res.EmailVerifySnippet = snippet(lower, idx, 10, 80)
			break
		}
	}
	for _, p := range dashboardPatterns {
		if idx := strings.Index(lower, p); idx != -1 {
			res.DashboardTextFound = true
			res.DashboardSnippet = snippet(lower, idx, 10, 60)
			break
		}
	}
	return res
}

func collectLinkHits(doc *goquery.Document, keywords []string) []LinkHit {
	var hits []LinkHit
	doc.Find(`a, button, [role="button"], input[type="submit"], .btn, [class*="button"]`).
		EachWithBreak(func(_ int, el *goquery.Selection) bool {
			text := strings.TrimSpace(el.Text())
			if text == "" {
				text, _ = el.Attr("value")
			}
			lower := strings.ToLower(text)
			if len(lower) < 2 || len(lower) > 60 {
				return true
			}
			for _, kw := range keywords {
				if !strings.Contains(lower, kw) {
					continue
				}
				sel := ""
				if id, ok := el.Attr("id"); ok && id != "" {
					sel = "#" + id
				} else if href, ok := el.Attr("href"); ok && goquery.NodeName(el) == "a" {
					sel = `a[href="` + href + `"]`
				}
				hits = append(hits, LinkHit{Text: truncate(text, 60), Selector: sel, Keyword: kw})
				break
			}
			return len(hits) < maxLinkHits
		})
	return hits
}

func snippet(text string, idx, before, after int) string {
	start := idx - before
	if start < 0 {
		start = 0
	}
	end := idx + after
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

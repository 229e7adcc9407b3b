package handlers

import (
	"net/http"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

const ifscLength = 11

type bankForm struct {
	AccountHolder string
	AccountNumber string
	IFSC          string
}

type bankView struct {
	Accounts []backend.BankAccount
	Form     bankForm
}

type loginView struct {
	Next string
}

func (h *Handlers) showBank(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.backend.ListBankAccounts(r.Context())
	if err != nil {
		h.backendFailure(w, r, err, "Bank accounts unavailable", "We couldn't load your bank accounts. Please try again.")
		return
	}
	h.views.render(w, r, http.StatusOK, "bank", newPage(r, "Bank accounts", bankView{Accounts: accounts}))
}

func (h *Handlers) addBank(w http.ResponseWriter, r *http.Request) {
	form := bankForm{
		AccountHolder: strings.TrimSpace(r.PostFormValue("account_holder_name")),
		AccountNumber: strings.TrimSpace(r.PostFormValue("account_number")),
		IFSC:          strings.ToUpper(strings.TrimSpace(r.PostFormValue("ifsc_code"))),
	}
	if msg := validateBankForm(form, strings.TrimSpace(r.PostFormValue("confirm_account_number"))); msg != "" {
		// Checked here so the backend is never called with an obviously bad account.
		flashRedirect(w, r, session.ToneError, msg, "/account/bank")
		return
	}
	msg, err := h.backend.AddBankAccount(r.Context(), backend.BankAccount{
		AccountHolder: form.AccountHolder,
		AccountNumber: form.AccountNumber,
		IFSC:          form.IFSC,
	})
	if err != nil {
		requestctx.Logger(r.Context()).Warn("add bank account failed", zap.Error(err))
		flashRedirect(w, r, session.ToneError, backend.UserMessage(err, "We couldn't add this account. Please try again."), "/account/bank")
		return
	}
	flashRedirect(w, r, session.ToneSuccess, orDefault(msg, "Bank account added."), "/account/bank")
}

func validateBankForm(f bankForm, confirm string) string {
	switch {
	case f.AccountHolder == "":
		return "Please enter the account holder's name."
	case f.AccountNumber == "" || !allDigits(f.AccountNumber):
		return "Please enter a valid account number."
	case confirm != f.AccountNumber:
		return "Account numbers don't match."
	case len(f.IFSC) != ifscLength:
		return "IFSC code must be 11 characters."
	}
	return ""
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (h *Handlers) showLogin(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).LoggedIn() {
		redirect(w, r, localPath(r.URL.Query().Get("next"), "/cart"))
		return
	}
	h.views.render(w, r, http.StatusOK, "login", newPage(r, "Sign in", loginView{Next: localPath(r.URL.Query().Get("next"), "")}))
}

// login stores a bearer token issued by the backend's sign-in flow.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PostFormValue("token"))
	next := localPath(r.PostFormValue("next"), "/cart")
	if token == "" {
		flashRedirect(w, r, session.ToneError, "Please provide an access token.", "/login")
		return
	}
	sess := session.FromContext(r.Context())
	sess.SetToken(token)
	if !sess.LoggedIn() {
		flashRedirect(w, r, session.ToneError, "That token has expired. Please sign in again.", "/login")
		return
	}
	flashRedirect(w, r, session.ToneSuccess, "Signed in.", next)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	session.FromContext(r.Context()).Logout()
	flashRedirect(w, r, session.ToneInfo, "You have been signed out.", "/cart")
}

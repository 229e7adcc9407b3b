package payments

import (
	"errors"
	"strings"
)

// Classifier turns gateway callback parameters into a Result.
type Classifier struct {
	catalogue *Catalogue
	key       string
	salt      string
	strict    bool
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithCatalogue overrides the embedded error catalogue.
func WithCatalogue(c *Catalogue) ClassifierOption {
	return func(cl *Classifier) {
		if c != nil {
			cl.catalogue = c
		}
	}
}

// WithHashVerification requires every callback to carry a valid response hash.
func WithHashVerification(key, salt string) ClassifierOption {
	return func(cl *Classifier) {
		cl.key = strings.TrimSpace(key)
		cl.salt = strings.TrimSpace(salt)
	}
}

// WithStrictStatus refuses to infer success from a transaction id alone.
func WithStrictStatus(strict bool) ClassifierOption {
	return func(cl *Classifier) {
		cl.strict = strict
	}
}

// NewClassifier builds a classifier over the embedded catalogue.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{catalogue: DefaultCatalogue()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalogue returns the catalogue used for failure messages.
func (c *Classifier) Catalogue() *Catalogue { return c.catalogue }

// Classify maps callback parameters to Success or Failure.
func (c *Classifier) Classify(p Params) Result {
	if c.salt != "" {
		switch err := VerifyResponseHash(p, c.key, c.salt); {
		case errors.Is(err, ErrHashMissing):
			return c.failure("hash_missing")
		case err != nil:
			return c.failure("hash_mismatch")
		}
	}
	if !IsPaymentSuccess(p) {
		return Failure{Code: strings.ToLower(failureCode(p)), Message: c.catalogue.ErrorMessage(p)}
	}
	assumed := !statusPresent(p)
	if assumed && c.strict {
		return c.failure("ambiguous_response")
	}
	return Success{TransactionID: ExtractTransactionID(p), Assumed: assumed}
}

// failure builds a Failure carrying the catalogue message for code.
func (c *Classifier) failure(code string) Failure {
	return Failure{Code: code, Message: c.catalogue.Message(code, "")}
}

// FailureFor builds a Failure for a catalogue code, for failures detected outside a callback.
func (c *Classifier) FailureFor(code string) Failure {
	return c.failure(code)
}

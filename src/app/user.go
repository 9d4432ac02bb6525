package app

import "errors"

// MaxImages is the upper bound of files accepted by a single upload.
const MaxImages = 5

var (
	ErrNotSignedIn  = errors.New("not signed in")
	ErrNoFiles      = errors.New("no files selected")
	ErrTooManyFiles = errors.New("too many files")
	ErrNoImages     = errors.New("no uploaded images")
)

// User is the identity extracted from a verified ID token.
type User struct {
	// Subject identifier issued by the identity provider.
	Subject string `json:"sub"`

	Email string `json:"email"`

	// User's display name.
	Name string `json:"name"`

	Picture string `json:"picture,omitempty"`

	// Issuer the token was accepted from.
	Issuer string `json:"iss"`
}

// State is everything a browser session carries between requests. Handlers
// receive it loaded from the session store and hand it back to be saved.
type State struct {
	User       *User    `json:"user,omitempty"`
	Workspace  string   `json:"workspace,omitempty"`
	Images     []string `json:"images,omitempty"`
	Composite  string   `json:"composite,omitempty"`
	OAuthState string   `json:"oauth_state,omitempty"`
}

func (s *State) SignedIn() bool {
	return s.User != nil
}

// ReplaceImages swaps the uploaded image set. The composite was built from
// the old set, so it is dropped together with it.
func (s *State) ReplaceImages(urls []string) {
	s.Images = append([]string(nil), urls...)
	s.Composite = ""
}

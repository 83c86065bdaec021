package eios

import "fmt"

// the portal answers 401/403 when the basic auth credentials are wrong
// or the account has been locked out. this must stay distinguishable
// from plain transport failures so callers can ask for credentials
// again instead of retrying.
var ErrAuthentication = fmt.Errorf("the portal rejected your credentials")

// NetworkError covers transport failures and non-success statuses on
// any of the pipeline requests.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

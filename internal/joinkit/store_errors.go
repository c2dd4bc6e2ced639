package joinkit

import "errors"

var (
	// ErrCredentialNotFound indicates no credential is stored for the user.
	ErrCredentialNotFound = errors.New("credential_store.not_found")
	// ErrCredentialEmptyUserID indicates a record without a user identifier.
	ErrCredentialEmptyUserID = errors.New("credential_store.empty_user_id")
)

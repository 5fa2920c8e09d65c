// Package auth guards the admin REST API.
//
// There is one administrator account, configured as an argon2id PHC hash.
// A successful login yields a short-lived HS256 bearer token whose
// signature and expiry are the only things checked on later requests.
package auth

// Package password hashes local-account passwords.
//
// New hashes are Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded base64. Padded values, as written by older
// releases, are accepted too.
//
// Accounts imported from earlier deployments may carry bcrypt hashes
// ($2a$, $2b$ or $2y$). They verify normally and always report
// [Argon2.NeedsUpgrade], so the engine re-hashes them after the next
// successful login. Accounts provisioned through OIDC or SAML carry no local
// hash and never reach this package.
package password

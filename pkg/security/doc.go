/*
Package security provides the cryptographic services the core needs to
keep GitApp credentials and secret env values unreadable at rest, and
deploy tokens unreadable even to someone with read access to the store.

# Secrets encryption

SecretsManager wraps AES-256-GCM with a 32-byte key, either supplied
directly or derived deterministically from an installation ID via
DeriveKeyFromClusterID (so a fresh install bootstraps its own key without
an operator needing to generate and store one out of band). GitApp
installation/refresh tokens and Secret=true EnvVariable values are
encrypted with this key before they reach the store; EncryptEnvValue and
DecryptEnvValue are the single entry/exit point services use.

# Deploy token hashing

Deploy tokens (the opaque bearer enabling unauthenticated PUT-to-deploy on
a service) are digested with SHA-256 before being persisted — the
plaintext token is shown to the operator exactly once at generation time
and is unrecoverable from the store afterward. Unlike the salted,
intentionally-slow hash a login password would get, this digest is
deterministic on purpose: PUT /webhook/deploy/<token> needs an indexed
lookup from the token straight to its owning service, not a table scan
against every stored hash. See tokens.go.

# Webhook signatures

GitHub push/PR events are authenticated via HMAC-SHA256 over the request
body (x-hub-signature-256); GitLab events via constant-time comparison of
a bearer token (X-Gitlab-Token). Both live in pkg/webhook, built on the
same crypto/hmac and crypto/subtle primitives as the rest of this
package.
*/
package security

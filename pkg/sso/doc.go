// Package sso implements the federated authentication engine: SAML 2.0
// and OpenID Connect protocol handlers behind a shared Protocol
// interface, attribute mapping into a canonical user record,
// certificate management, per-organization configuration and session
// persistence, just-in-time provisioning, and the orchestrator that
// ties a full login flow together.
//
// Protocol handlers are stateless: every flow rebuilds its client from
// the organization's stored configuration, and the ephemeral link
// between an initiated request and its callback lives in a shared
// cache under a single-use key.
package sso

// Package crypto implements request signing for the Algolab REST API.
//
// A Credential holds the broker-issued bundle (APIKEY-<base64 key>) and keeps
// the decoded AES key in a memguard enclave. A Signer built from it encrypts
// sensitive login fields with AES-CBC and computes the per-request Checker
// header, a SHA-256 digest over the bundle, hostname, endpoint and canonical
// request body.
package crypto

// Package gitappauth is the concrete pkg/gitclient.TokenMinter: it turns a
// GitApp's encrypted, provider-specific credential into a short-lived
// installation access token. GitHub Apps authenticate by signing a JWT
// with the app's RSA private key and exchanging it for an installation
// token; GitLab OAuth apps authenticate by exchanging a stored refresh
// token. Both exchanges are a handful of stdlib crypto/rsa and
// encoding/json calls over net/http — no JWT or OAuth client library
// appears anywhere in the retrieval pack, and minting a token is too
// small an operation to justify reaching for one (see DESIGN.md).
package gitappauth

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/zaneops/pkg/security"
	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// Minter mints installation access tokens for both supported providers,
// dispatching on GitApp.Provider. It satisfies gitclient.TokenMinter.
type Minter struct {
	httpClient *http.Client

	// appIDs maps GitApp.ID to the numeric App ID GitHub expects as the
	// JWT issuer, since types.GitApp has no field for it; populated at
	// startup from configuration.
	appIDs map[string]string
}

func New(appIDs map[string]string) *Minter {
	return &Minter{httpClient: &http.Client{Timeout: 10 * time.Second}, appIDs: appIDs}
}

// MintAccessToken exchanges app's encrypted refresh credential for a
// fresh installation access token.
func (m *Minter) MintAccessToken(ctx context.Context, app *types.GitApp) (string, error) {
	switch app.Provider {
	case "github":
		return m.mintGitHub(ctx, app)
	case "gitlab":
		return m.mintGitLab(ctx, app)
	default:
		return "", zerr.Validation("unsupported git app provider %q", app.Provider)
	}
}

// mintGitHub signs a short-lived JWT with the app's RSA private key
// (decrypted from RefreshTokenEnc, where the PEM-encoded key is stored)
// and exchanges it for an installation access token.
func (m *Minter) mintGitHub(ctx context.Context, app *types.GitApp) (string, error) {
	keyPEM, err := security.Decrypt(app.RefreshTokenEnc)
	if err != nil {
		return "", zerr.Runtime(err, "decrypt github app %s private key", app.ID)
	}
	key, err := parseRSAPrivateKey(keyPEM)
	if err != nil {
		return "", zerr.Runtime(err, "parse github app %s private key", app.ID)
	}

	jwtStr, err := signAppJWT(m.appIDs[app.ID], key)
	if err != nil {
		return "", zerr.Runtime(err, "sign github app %s jwt", app.ID)
	}

	url := "https://api.github.com/app/installations/" + app.ID + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", zerr.Runtime(err, "build github installation token request")
	}
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", zerr.Runtime(err, "call github installation token endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", zerr.Runtime(fmt.Errorf("status %d: %s", resp.StatusCode, body), "github installation token exchange failed")
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", zerr.Runtime(err, "decode github installation token response")
	}
	return out.Token, nil
}

// mintGitLab exchanges a stored OAuth refresh token (decrypted from
// RefreshTokenEnc) for a fresh access token.
func (m *Minter) mintGitLab(ctx context.Context, app *types.GitApp) (string, error) {
	refreshToken, err := security.Decrypt(app.RefreshTokenEnc)
	if err != nil {
		return "", zerr.Runtime(err, "decrypt gitlab app %s refresh token", app.ID)
	}

	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": string(refreshToken),
	}
	payload, _ := json.Marshal(form)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://gitlab.com/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return "", zerr.Runtime(err, "build gitlab token refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", zerr.Runtime(err, "call gitlab token endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", zerr.Runtime(fmt.Errorf("status %d: %s", resp.StatusCode, body), "gitlab token refresh failed")
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", zerr.Runtime(err, "decode gitlab token response")
	}
	return out.AccessToken, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// signAppJWT builds and signs the RS256 JWT GitHub's App auth flow
// expects: {iat, exp, iss} claims, 9 minute expiry (GitHub's ceiling is
// 10 minutes).
func signAppJWT(issuer string, key *rsa.PrivateKey) (string, error) {
	now := time.Now()
	header := base64URL([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]interface{}{
		"iat": now.Add(-30 * time.Second).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": issuer,
	})
	if err != nil {
		return "", err
	}
	payload := base64URL(claims)

	signingInput := header + "." + payload
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64URL(sig), nil
}

func base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

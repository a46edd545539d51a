package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teslashibe/go-avatar/internal/httpc"
)

// Credential is a short-lived, single-session bearer secret.
type Credential struct {
	Secret    string
	Voice     string
	ExpiresAt time.Time
}

// Credentials mints a credential for one session.
type Credentials interface {
	Fetch(ctx context.Context, prompt, voice string) (Credential, error)
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(ctx context.Context, prompt, voice string) (Credential, error)

// Fetch calls f.
func (f CredentialsFunc) Fetch(ctx context.Context, prompt, voice string) (Credential, error) {
	return f(ctx, prompt, voice)
}

// HTTPCredentials fetches credentials from a server-side token endpoint that
// accepts {prompt, voice} and answers with {client_secret: {value,
// expires_at}, voice}.
type HTTPCredentials struct {
	URL    string
	Client *http.Client
}

type credentialRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
}

type credentialResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Voice string `json:"voice"`
}

// Fetch implements Credentials. Every failure is a *CredentialError.
func (h *HTTPCredentials) Fetch(ctx context.Context, prompt, voice string) (Credential, error) {
	body, err := json.Marshal(credentialRequest{Prompt: prompt, Voice: voice})
	if err != nil {
		return Credential{}, &CredentialError{Cause: err}
	}
	resp, err := httpc.PostContext(ctx, h.Client, h.URL, "application/json", body, nil)
	if err != nil {
		return Credential{}, &CredentialError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, &CredentialError{StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, &CredentialError{
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status: %s", truncate(string(data), 200)),
		}
	}

	var cr credentialResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Credential{}, &CredentialError{StatusCode: resp.StatusCode, Cause: err}
	}
	if cr.ClientSecret.Value == "" {
		return Credential{}, &CredentialError{StatusCode: resp.StatusCode, Cause: errors.New("response has no client secret")}
	}

	cred := Credential{Secret: cr.ClientSecret.Value, Voice: cr.Voice}
	if cr.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(cr.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

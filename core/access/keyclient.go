package access

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// DefaultCacheTTL is how long a verified key is trusted without asking
// the key service again.
const DefaultCacheTTL = 300 * time.Second

// KeyClient verifies API keys against an external key service. Verified
// keys are cached in memory for a configurable TTL.
type KeyClient struct {
	baseURL  string
	apiID    string
	client   *http.Client
	cacheTTL time.Duration

	mutex sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	auth    *Authorization
	expires time.Time
}

// KeyClientBuilder is a helper builder for KeyClient.
type KeyClientBuilder struct {
	// BaseURL is the base url of the key service, without trailing slash.
	BaseURL string
	// APIID scopes key verification to one API of the key service.
	APIID string
	// CacheTTL overrides DefaultCacheTTL when positive.
	CacheTTL time.Duration
	// Timeout overrides the default http client timeout of 10 seconds.
	Timeout time.Duration
	// HTTPClient overrides the http client entirely. Takes precedence
	// over Timeout.
	HTTPClient *http.Client
}

// NewKeyClient creates a key client from the builder.
func NewKeyClient(kcb *KeyClientBuilder) *KeyClient {
	client := kcb.HTTPClient
	if client == nil {
		timeout := kcb.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	cacheTTL := kcb.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &KeyClient{
		baseURL:  kcb.BaseURL,
		apiID:    kcb.APIID,
		client:   client,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

type verifyKeyRequest struct {
	APIID string `json:"apiId"`
	Key   string `json:"key"`
}

type verifyKeyResponse struct {
	Valid    bool                   `json:"valid"`
	KeyID    string                 `json:"keyId"`
	OwnerID  string                 `json:"ownerId"`
	Roles    []string               `json:"roles"`
	Meta     map[string]interface{} `json:"meta"`
	Identity map[string]interface{} `json:"identity"`
}

// VerifyKey checks an API key with the key service and returns the
// resolved authorization. Invalid keys return a nil authorization and
// a nil error; errors are reserved for the key service being
// unreachable or answering garbage.
func (k *KeyClient) VerifyKey(ctx context.Context, key string) (*Authorization, error) {
	if key == "" {
		return nil, nil
	}

	if auth := k.readCache(key); auth != nil {
		return auth, nil
	}

	body, err := json.Marshal(verifyKeyRequest{APIID: k.apiID, Key: key})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.baseURL+"/v1/keys.verifyKey", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key service returned status %d", res.StatusCode)
	}

	var verified verifyKeyResponse
	if err := json.NewDecoder(res.Body).Decode(&verified); err != nil {
		return nil, err
	}
	if !verified.Valid {
		return nil, nil
	}

	auth := &Authorization{
		Role:     extractRole(&verified),
		KeyID:    verified.KeyID,
		OwnerID:  verified.OwnerID,
		Identity: verified.Identity,
		Meta:     verified.Meta,
	}
	k.writeCache(key, auth)
	return auth, nil
}

// extractRole resolves the role of a verified key. The key service can
// carry the role in three places; the first parseable one wins, and a
// key without any recognizable role falls back to the lowest role.
func extractRole(verified *verifyKeyResponse) Role {
	for _, name := range verified.Roles {
		if role, err := ParseRole(name); err == nil {
			return role
		}
	}
	if name, ok := verified.Meta["role"].(string); ok {
		if role, err := ParseRole(name); err == nil {
			return role
		}
	}
	if name, ok := verified.Identity["role"].(string); ok {
		if role, err := ParseRole(name); err == nil {
			return role
		}
	}
	return RoleExperimentee
}

func (k *KeyClient) readCache(key string) *Authorization {
	k.mutex.RLock()
	entry, ok := k.cache[key]
	k.mutex.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.auth
	}
	return nil
}

func (k *KeyClient) writeCache(key string, auth *Authorization) {
	k.mutex.Lock()
	k.cache[key] = cacheEntry{auth: auth, expires: time.Now().Add(k.cacheTTL)}
	k.mutex.Unlock()
}

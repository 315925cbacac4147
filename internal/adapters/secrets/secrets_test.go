package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeVault serves KV v2 reads for one token
type fakeVault struct {
	server  *httptest.Server
	secrets map[string]map[string]interface{}
	reads   atomic.Int32
}

func newFakeVault(t *testing.T) *fakeVault {
	t.Helper()
	f := &fakeVault{secrets: map[string]map[string]interface{}{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/v1/auth/approle/login" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["role_id"] != "role" || body["secret_id"] != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":["invalid role or secret ID"]}`))
				return
			}
			_, _ = w.Write([]byte(`{"auth":{"client_token":"s.approle"}}`))
			return
		}

		token := r.Header.Get("X-Vault-Token")
		if token != "s.root" && token != "s.approle" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}

		f.reads.Add(1)
		data, ok := f.secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     data,
				"metadata": map[string]interface{}{"version": 3, "created_time": "2026-01-02T03:04:05Z"},
			},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVault) config() *VaultConfig {
	cfg := DefaultVaultConfig(f.server.URL)
	cfg.Token = "s.root"
	cfg.HTTPClient = f.server.Client()
	return cfg
}

func TestVaultSecretManager_GetSecret(t *testing.T) {
	fv := newFakeVault(t)
	fv.secrets["/v1/secret/data/subscription-service/stripe"] = map[string]interface{}{
		"api_key":        "sk_test_123",
		"webhook_secret": "whsec_abc",
	}
	fv.secrets["/v1/secret/data/subscription-service/cron"] = map[string]interface{}{
		"value": "cron-secret",
		"owner": "billing",
	}

	sm, err := NewVaultSecretManager(context.Background(), fv.config(), zap.NewNop())
	require.NoError(t, err)

	t.Run("field selector", func(t *testing.T) {
		secret, err := sm.GetSecret(context.Background(), "subscription-service/stripe#webhook_secret")
		require.NoError(t, err)
		assert.Equal(t, "whsec_abc", secret.Value)
		assert.Equal(t, "3", secret.Version)
		assert.Equal(t, "2026-01-02T03:04:05Z", secret.CreatedAt)
		assert.Equal(t, "sk_test_123", secret.Metadata["api_key"])
		assert.NotContains(t, secret.Metadata, "webhook_secret")
	})

	t.Run("value key", func(t *testing.T) {
		secret, err := sm.GetSecret(context.Background(), "subscription-service/cron")
		require.NoError(t, err)
		assert.Equal(t, "cron-secret", secret.Value)
		assert.Equal(t, "billing", secret.Metadata["owner"])
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := sm.GetSecret(context.Background(), "subscription-service/stripe#nope")
		require.Error(t, err)
		assert.True(t, domain.IsNotFoundError(err))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := sm.GetSecret(context.Background(), "subscription-service/absent")
		require.Error(t, err)
		assert.True(t, domain.IsNotFoundError(err))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := sm.GetSecret(context.Background(), "#field")
		require.Error(t, err)
		assert.Equal(t, domain.ErrorCodeValidationFailed, domain.GetErrorCode(err))
	})
}

func TestVaultSecretManager_Caches(t *testing.T) {
	fv := newFakeVault(t)
	fv.secrets["/v1/secret/data/app"] = map[string]interface{}{"value": "v"}

	sm, err := NewVaultSecretManager(context.Background(), fv.config(), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := sm.GetSecret(context.Background(), "app")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fv.reads.Load())
}

func TestVaultSecretManager_KVv1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/app", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"value":"plain"}}`))
	}))
	defer srv.Close()

	cfg := &VaultConfig{
		Address:    srv.URL,
		Token:      "s.root",
		MountPath:  "kv",
		KVVersion:  "v1",
		HTTPClient: srv.Client(),
	}
	sm, err := NewVaultSecretManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	secret, err := sm.GetSecret(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, "plain", secret.Value)
	assert.Equal(t, "v1", secret.Version)
}

func TestVaultSecretManager_AppRole(t *testing.T) {
	fv := newFakeVault(t)
	fv.secrets["/v1/secret/data/app"] = map[string]interface{}{"value": "v"}

	cfg := fv.config()
	cfg.AuthMethod = "approle"
	cfg.Token = ""
	cfg.RoleID = "role"
	cfg.SecretID = "secret"

	sm, err := NewVaultSecretManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	secret, err := sm.GetSecret(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, "v", secret.Value)

	cfg.SecretID = "wrong"
	_, err = NewVaultSecretManager(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewVaultSecretManager_ConfigErrors(t *testing.T) {
	_, err := NewVaultSecretManager(context.Background(), &VaultConfig{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewVaultSecretManager(context.Background(), DefaultVaultConfig("http://127.0.0.1:8200"), zap.NewNop())
	assert.ErrorContains(t, err, "token is required")

	cfg := DefaultVaultConfig("http://127.0.0.1:8200")
	cfg.AuthMethod = "kubernetes"
	_, err = NewVaultSecretManager(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported auth method")
}

type mockSecretsManagerAPI struct {
	mock.Mock
}

func (m *mockSecretsManagerAPI) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func TestAWSSecretsManager_GetSecret(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := new(mockSecretsManagerAPI)
	api.On("GetSecretValue", mock.Anything, "subscription-service/razorpay").Return(&secretsmanager.GetSecretValueOutput{
		ARN:          aws.String("arn:aws:secretsmanager:us-east-1:123:secret:subscription-service/razorpay"),
		Name:         aws.String("subscription-service/razorpay"),
		SecretString: aws.String(`{"key_id":"rzp_test","key_secret":"s3cr3t"}`),
		VersionId:    aws.String("ver-1"),
		CreatedDate:  &created,
	}, nil).Once()
	api.On("GetSecretValue", mock.Anything, "subscription-service/plain").Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("raw-token"),
		VersionId:    aws.String("ver-2"),
	}, nil)
	api.On("GetSecretValue", mock.Anything, "subscription-service/gone").
		Return(nil, &types.ResourceNotFoundException{Message: aws.String("not found")})
	api.On("GetSecretValue", mock.Anything, "subscription-service/broken").
		Return(nil, errors.New("throttled"))

	sm := NewAWSSecretsManagerWithClient(api, time.Minute, zap.NewNop())
	ctx := context.Background()

	secret, err := sm.GetSecret(ctx, "subscription-service/razorpay#key_secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret.Value)
	assert.Equal(t, "ver-1", secret.Version)
	assert.Equal(t, "2026-03-01T12:00:00Z", secret.CreatedAt)
	assert.Equal(t, "subscription-service/razorpay", secret.Metadata["name"])

	// cached: the mock only answers once
	again, err := sm.GetSecret(ctx, "subscription-service/razorpay#key_secret")
	require.NoError(t, err)
	assert.Same(t, secret, again)

	plain, err := sm.GetSecret(ctx, "subscription-service/plain")
	require.NoError(t, err)
	assert.Equal(t, "raw-token", plain.Value)
	assert.Empty(t, plain.CreatedAt)

	_, err = sm.GetSecret(ctx, "subscription-service/plain#field")
	assert.Error(t, err)

	_, err = sm.GetSecret(ctx, "subscription-service/gone")
	assert.True(t, domain.IsNotFoundError(err))

	_, err = sm.GetSecret(ctx, "subscription-service/broken")
	require.Error(t, err)
	assert.False(t, domain.IsNotFoundError(err))
	assert.ErrorContains(t, err, "throttled")
}

func TestLocalSecretManager_GetSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stripe"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stripe", "api_key"), []byte("sk_test_local\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paypal.json"),
		[]byte(`{"value":"pp-secret","version":"7","tags":{"env":"dev"}}`), 0o600))

	sm := NewLocalSecretManager(dir, zap.NewNop())
	ctx := context.Background()

	secret, err := sm.GetSecret(ctx, "stripe/api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_local", secret.Value)
	assert.Equal(t, "v1", secret.Version)

	secret, err = sm.GetSecret(ctx, "paypal.json")
	require.NoError(t, err)
	assert.Equal(t, "pp-secret", secret.Value)
	assert.Equal(t, "7", secret.Version)
	assert.Equal(t, "dev", secret.Metadata["env"])

	_, err = sm.GetSecret(ctx, "stripe/missing")
	assert.True(t, domain.IsNotFoundError(err))

	for _, bad := range []string{"", "../etc/passwd", "/etc/passwd"} {
		_, err = sm.GetSecret(ctx, bad)
		assert.Equal(t, domain.ErrorCodeValidationFailed, domain.GetErrorCode(err), bad)
	}
}

func TestSecretCache_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newSecretCache(time.Minute)
	c.now = func() time.Time { return now }

	c.set("k", &ports.Secret{Value: "v"})
	require.NotNil(t, c.get("k"))

	now = now.Add(time.Minute)
	assert.Nil(t, c.get("k"))

	disabled := newSecretCache(0)
	disabled.set("k", &ports.Secret{Value: "v"})
	assert.Nil(t, disabled.get("k"))
}

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	v, ok := s[path]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeNotFound, "secret not found")
	}
	return &ports.Secret{Value: v}, nil
}

func TestResolve(t *testing.T) {
	apiKey := "from-env"
	webhook := ""
	untouched := "keep"

	err := Resolve(context.Background(), staticSecrets{"stripe#key": "sk", "stripe#wh": "whsec"},
		Ref{Path: "stripe#key", Target: &apiKey},
		Ref{Path: "stripe#wh", Target: &webhook},
		Ref{Path: "", Target: &untouched},
	)
	require.NoError(t, err)
	assert.Equal(t, "sk", apiKey)
	assert.Equal(t, "whsec", webhook)
	assert.Equal(t, "keep", untouched)

	err = Resolve(context.Background(), staticSecrets{}, Ref{Path: "missing", Target: &apiKey})
	require.Error(t, err)
	assert.True(t, domain.IsNotFoundError(err))
}

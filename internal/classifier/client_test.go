package classifier

import (
	"context"
	"encoding/base64"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestClassify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		decoded, err := base64.StdEncoding.DecodeString(req.FileBytes)
		require.NoError(t, err)
		assert.Equal(t, "MZ payload", string(decoded))

		_, _ = w.Write([]byte(`{"predictions_file":"malware","probability_file":0.97,
			"predictions_family":["emotet","trickbot"],"probability_family":[0.8,0.1]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", 5*time.Second)
	pred, err := c.Classify(context.Background(), writeSample(t, "MZ payload"))
	require.NoError(t, err)
	assert.Equal(t, "malware", pred.PrimaryLabel)
	require.NotNil(t, pred.PrimaryProbability)
	assert.InDelta(t, 0.97, *pred.PrimaryProbability, 1e-9)
	assert.Equal(t, []string{"emotet", "trickbot"}, pred.FamilyLabels)
	assert.Equal(t, []float64{0.8, 0.1}, pred.FamilyProbabilities)
}

func TestClassify_BenignIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"predictions_file":"benign"}`))
	}))
	defer srv.Close()

	pred, err := New(srv.URL, "", time.Second).Classify(context.Background(), writeSample(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, "benign", pred.PrimaryLabel)
	assert.Nil(t, pred.PrimaryProbability)
	assert.Empty(t, pred.FamilyLabels)
}

func TestClassify_ScalarFamilyFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"predictions_file":"malware","predictions_family":"emotet","probability_family":0.66}`))
	}))
	defer srv.Close()

	pred, err := New(srv.URL, "", time.Second).Classify(context.Background(), writeSample(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"emotet"}, pred.FamilyLabels)
	assert.Equal(t, []float64{0.66}, pred.FamilyProbabilities)
}

func TestClassify_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"server error", http.StatusInternalServerError, "boom", KindHTTPStatus},
		{"unauthorized", http.StatusUnauthorized, "no", KindHTTPStatus},
		{"not json", http.StatusOK, "<html>", KindMalformed},
		{"missing label", http.StatusOK, `{"probability_file":0.5}`, KindMissingLabel},
		{"empty label", http.StatusOK, `{"predictions_file":""}`, KindMissingLabel},
		{"bad family", http.StatusOK, `{"predictions_file":"m","predictions_family":{"a":1}}`, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", time.Second).Classify(context.Background(), writeSample(t, "x"))
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, "", 100*time.Millisecond).Classify(context.Background(), writeSample(t, "x"))
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestClassify_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "", time.Second).Classify(context.Background(), writeSample(t, "x"))
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestClassify_MissingSample(t *testing.T) {
	_, err := New("http://127.0.0.1:1", "", time.Second).Classify(context.Background(), "/nonexistent/sample")
	assert.Equal(t, KindRead, KindOf(err))
}

func TestClassify_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, WithBreaker(BreakerConfig{FailThreshold: 2, Cooldown: time.Minute}))
	path := writeSample(t, "x")

	for i := 0; i < 2; i++ {
		_, err := c.Classify(context.Background(), path)
		assert.Equal(t, KindHTTPStatus, KindOf(err))
	}
	_, err := c.Classify(context.Background(), path)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClassify_BreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"label":"none"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, WithBreaker(BreakerConfig{FailThreshold: 1}))
	path := writeSample(t, "x")
	for i := 0; i < 3; i++ {
		_, err := c.Classify(context.Background(), path)
		assert.Equal(t, KindMissingLabel, KindOf(err))
	}
	assert.Equal(t, int32(3), calls.Load())
}

type mockSecrets struct {
	value *string
	err   error
	id    string
}

func (m *mockSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.id = aws.ToString(in.SecretId)
	if m.err != nil {
		return nil, m.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: m.value}, nil
}

func TestTokenFromSecret(t *testing.T) {
	t.Run("raw", func(t *testing.T) {
		m := &mockSecrets{value: aws.String(" tok-123\n")}
		tok, err := TokenFromSecret(context.Background(), m, "arn:secret")
		require.NoError(t, err)
		assert.Equal(t, "tok-123", tok)
		assert.Equal(t, "arn:secret", m.id)
	})
	t.Run("json", func(t *testing.T) {
		tok, err := TokenFromSecret(context.Background(), &mockSecrets{value: aws.String(`{"token":"tok-456"}`)}, "id")
		require.NoError(t, err)
		assert.Equal(t, "tok-456", tok)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := TokenFromSecret(context.Background(), &mockSecrets{value: aws.String(`{"other":"x"}`)}, "id")
		assert.Error(t, err)
	})
	t.Run("binary only", func(t *testing.T) {
		_, err := TokenFromSecret(context.Background(), &mockSecrets{}, "id")
		assert.Error(t, err)
	})
	t.Run("api error", func(t *testing.T) {
		_, err := TokenFromSecret(context.Background(), &mockSecrets{err: errors.New("denied")}, "id")
		assert.ErrorContains(t, err, "denied")
	})
}

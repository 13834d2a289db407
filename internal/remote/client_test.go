package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intakeFieldNames = []string{
	"patient_name", "sa_id_number", "date_of_birth", "phone_number", "email",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const analyzeFixture = `{
  "status": "succeeded",
  "analyzeResult": {
    "apiVersion": "2023-07-31",
    "modelId": "prebuilt-document",
    "keyValuePairs": [
      {"key": {"content": "ID Number:"}, "value": {"content": "8501015800085"}, "confidence": 0.92},
      {"key": {"content": "Date of Birth"}, "value": {"content": "01.01.1985"}, "confidence": 0.81},
      {"key": {"content": "Folio"}, "value": {"content": "F-221"}, "confidence": 0.99},
      {"key": {"content": "Email"}, "value": {"content": "   "}, "confidence": 0.70}
    ]
  }
}`

func TestAnalyzeMapsUsablePairs(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(analyzeFixture))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL, APIKey: "k-123"}, discardLogger())
	guesses, err := c.Analyze(context.Background(), []byte("image-bytes"), intakeFieldNames)
	require.NoError(t, err)
	require.Len(t, guesses, 2, "unmatched labels and blank values are dropped")

	assert.Equal(t, "8501015800085", guesses["sa_id_number"].Value)
	assert.InDelta(t, 92.0, guesses["sa_id_number"].Confidence, 1e-9)
	assert.Equal(t, "01.01.1985", guesses["date_of_birth"].Value)
	assert.InDelta(t, 81.0, guesses["date_of_birth"].Confidence, 1e-9)

	assert.Equal(t, "k-123", gotAuth)
	assert.Equal(t, "application/octet-stream", gotContentType)
}

func TestAnalyzeDisabledNeverCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: false, Endpoint: srv.URL}, discardLogger())
	guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
	require.NoError(t, err)
	assert.Nil(t, guesses)
	assert.Zero(t, calls.Load())
}

func TestAnalyzeDuplicateLabelsKeepHigherConfidence(t *testing.T) {
	const body = `{
	  "analyzeResult": {"keyValuePairs": [
	    {"key": {"content": "Identity number"}, "value": {"content": "1111111111111"}, "confidence": 0.50},
	    {"key": {"content": "ID No."}, "value": {"content": "8501015800085"}, "confidence": 0.90}
	  ]}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, discardLogger())
	guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
	require.NoError(t, err)
	require.Len(t, guesses, 1)
	assert.Equal(t, "8501015800085", guesses["sa_id_number"].Value)
	assert.InDelta(t, 90.0, guesses["sa_id_number"].Confidence, 1e-9)
}

func TestAnalyzeDegradesToNil(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, discardLogger())
		guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
		require.NoError(t, err)
		assert.Nil(t, guesses)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		c := NewClient(Config{Enabled: true, Endpoint: url}, discardLogger())
		guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
		require.NoError(t, err)
		assert.Nil(t, guesses)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()

		c := NewClient(Config{Enabled: true, Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, discardLogger())
		start := time.Now()
		guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
		require.NoError(t, err)
		assert.Nil(t, guesses)
		assert.Less(t, time.Since(start), 250*time.Millisecond, "must give up at the configured timeout")
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("certainly not json"))
		}))
		defer srv.Close()

		c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, discardLogger())
		guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
		require.NoError(t, err)
		assert.Nil(t, guesses)
	})

	t.Run("no usable pairs", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"analyzeResult": {"keyValuePairs": []}}`))
		}))
		defer srv.Close()

		c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, discardLogger())
		guesses, err := c.Analyze(context.Background(), []byte("x"), intakeFieldNames)
		require.NoError(t, err)
		assert.Nil(t, guesses)
	})
}

func TestCanonicalField(t *testing.T) {
	fields := []string{"patient_name", "sa_id_number", "phone_number", "referring_doctor"}

	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{label: "ID Number:", want: "sa_id_number", ok: true},
		{label: "Patient Name / Surname", want: "patient_name", ok: true},
		{label: "Cell:", want: "phone_number", ok: true},
		{label: "Referring Doctor", want: "referring_doctor", ok: true}, // field-name fallback
		{label: "Claim Code", ok: false},
		{label: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := canonicalField(tt.label, fields)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "id number", normalizeLabel("  ID -- Number: "))
	assert.Equal(t, "e mail", normalizeLabel("E-Mail"))
	assert.Equal(t, "", normalizeLabel("!!!"))
}

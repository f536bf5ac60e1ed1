package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestHTTPFetcher(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/organizations/00cv9y106":
			w.Header().Set("ETag", `"v42"`)
			_, _ = w.Write([]byte(`{"id":"00cv9y106"}`))
		case "/organizations/Q1137652":
			w.Header().Set("Last-Modified", "Wed, 01 May 2024 10:00:00 GMT")
			_, _ = w.Write([]byte(`{}`))
		case "/organizations/plain":
			_, _ = w.Write([]byte(`{"name":"Lab"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f := NewHTTPFetcher(HTTPConfig{
		BaseURL: srv.URL + "/organizations/",
		Headers: map[string]string{"Authorization": "Bearer token"},
	}, logger)
	ctx := context.Background()

	version, err := f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryROR, Value: "00cv9y106"})
	require.NoError(t, err)
	assert.Equal(t, "v42", version)
	assert.Equal(t, "/organizations/00cv9y106", gotPath)
	assert.Equal(t, "Bearer token", gotAuth)

	version, err = f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryWikidata, Value: "Q1137652"})
	require.NoError(t, err)
	assert.Equal(t, "Wed, 01 May 2024 10:00:00 GMT", version)

	first, err := f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryCustom, Value: "plain"})
	require.NoError(t, err)
	again, err := f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryCustom, Value: "plain"})
	require.NoError(t, err)
	assert.Len(t, first, 16)
	assert.Equal(t, first, again, "the body digest is stable")

	_, err = f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryROR, Value: "missing"})
	assert.ErrorContains(t, err, "404")

	_, err = f.Fetch(ctx, models.Identifier{RegistryID: models.RegistryCustom, Value: "a/b"})
	require.Error(t, err)
	assert.Equal(t, "/organizations/a%2Fb", gotPath)
}

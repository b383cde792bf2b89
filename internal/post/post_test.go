package post

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterAPI fakes the identity and letter endpoints.
type letterAPI struct {
	mu             sync.Mutex
	tokenRequests  int
	uploadedBytes  []byte
	idempotencyKey string
	backend        *httptest.Server
}

func newLetterAPI(t *testing.T) *letterAPI {
	t.Helper()
	api := &letterAPI{}
	api.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		switch {
		case r.URL.Path == "/auth/access-tokens":
			api.tokenRequests++
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"exp": time.Now().Add(time.Hour).Unix(),
			}).SignedString([]byte("test-key"))
			require.NoError(t, err)
			fmt.Fprintf(w, `{"access_token":%q}`, token)
		case r.URL.Path == "/file-upload":
			fmt.Fprintf(w, `{"data":{"attributes":{"url":%q,"url_signature":"sig-1"}}}`,
				api.backend.URL+"/uploads/slot-1")
		case r.URL.Path == "/uploads/slot-1" && r.Method == http.MethodPut:
			api.uploadedBytes, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/organisations/org-1/letters":
			api.idempotencyKey = r.Header.Get("Idempotency-Key")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"data":{"id":"letter-1"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.backend.Close)
	return api
}

func newTestClient(t *testing.T) (*Client, *letterAPI) {
	t.Helper()
	api := newLetterAPI(t)
	client := NewClient(Config{
		ClientID:       "cid",
		ClientSecret:   "secret",
		OrganisationID: "org-1",
		APIBase:        api.backend.URL,
		IdentityBase:   api.backend.URL,
	})
	return client, api
}

func TestSendLetter(t *testing.T) {
	client, api := newTestClient(t)
	ctx := context.Background()

	id, err := client.SendLetter(ctx, []byte("%PDF-1.4"), "letter.pdf", "order-42")
	require.NoError(t, err)
	assert.Equal(t, "letter-1", id)
	assert.Equal(t, []byte("%PDF-1.4"), api.uploadedBytes)
	assert.Equal(t, "order-42", api.idempotencyKey)
}

func TestSendLetterReusesToken(t *testing.T) {
	client, api := newTestClient(t)
	ctx := context.Background()

	_, err := client.SendLetter(ctx, []byte("a"), "a.pdf", "o1")
	require.NoError(t, err)
	_, err = client.SendLetter(ctx, []byte("b"), "b.pdf", "o2")
	require.NoError(t, err)
	assert.Equal(t, 1, api.tokenRequests)
}

func TestSendLetterGeneratesIdempotencyKey(t *testing.T) {
	client, api := newTestClient(t)

	_, err := client.SendLetter(context.Background(), []byte("a"), "a.pdf", "")
	require.NoError(t, err)
	assert.NotEmpty(t, api.idempotencyKey)
}

package httpx

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advent/pkg/contract"
)

func TestCheckURL(t *testing.T) {
	for _, ok := range []string{"http://a/b.xz", "https://the-tk.com/project/aoc2021-bigboys.html"} {
		assert.NoError(t, CheckURL(ok), ok)
	}
	for _, bad := range []string{"", "/rel", "file:///etc/passwd", "https://", "-o x", "ftp://h/x"} {
		assert.True(t, errors.Is(CheckURL(bad), contract.ErrInvalidInput), bad)
	}
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/gone":
			http.Error(w, "gone", http.StatusNotFound)
		case "/busy":
			http.Error(w, "try later", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	get := func(p string) *http.Response {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.NoError(t, CheckStatus(get("/ok")))
	assert.True(t, errors.Is(CheckStatus(get("/gone")), contract.ErrResponseInvalid))

	err := CheckStatus(get("/busy"))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.UpstreamStatus())
	assert.Equal(t, "try later", ue.UpstreamMessage())
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.False(t, ne.Timeout())
}

func TestNewClientTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient(0).Timeout)
	assert.Equal(t, 5*time.Second, NewClient(5).Timeout)
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"tether/internal/types"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
)

type RefresherTestSuite struct {
	suite.Suite
	srv     *httptest.Server
	handler http.HandlerFunc
}

func TestRefresherTestSuite(t *testing.T) {
	suite.Run(t, new(RefresherTestSuite))
}

func (s *RefresherTestSuite) SetupTest() {
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handler(w, r)
	}))
}

func (s *RefresherTestSuite) TearDownTest() {
	s.srv.Close()
}

func (s *RefresherTestSuite) TestHTTPRefresherSuccess() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("/api/users/refresh-token/", r.URL.Path)
		var in map[string]string
		s.NoError(json.NewDecoder(r.Body).Decode(&in))
		s.Equal("r0", in["refresh"])
		w.Header().Set(types.ContentTypeHName, types.ContentTypeJSON)
		_, _ = w.Write([]byte(`{"access":"a1"}`))
	}
	r := NewHTTPRefresher(s.srv.URL+"/api/", types.DefaultRefreshPath, s.srv.Client())
	cred, err := r.Refresh(context.Background(), "r0")
	s.NoError(err)
	s.Equal(types.Credential{AccessToken: "a1"}, cred)
}

func (s *RefresherTestSuite) TestHTTPRefresherRotates() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1"}`))
	}
	cred, err := NewHTTPRefresher(s.srv.URL, "/refresh", nil).Refresh(context.Background(), "r0")
	s.NoError(err)
	s.Equal("r1", cred.RefreshToken)
}

func (s *RefresherTestSuite) TestHTTPRefresherRejected() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	}
	_, err := NewHTTPRefresher(s.srv.URL, "/refresh", nil).Refresh(context.Background(), "r0")
	s.ErrorIs(err, types.ErrUnauthorized)
	s.Equal(http.StatusUnauthorized, err.(*types.APIError).StatusCode)
}

func (s *RefresherTestSuite) TestHTTPRefresherMalformed() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}
	_, err := NewHTTPRefresher(s.srv.URL, "/refresh", nil).Refresh(context.Background(), "r0")
	s.ErrorIs(err, types.ErrMalformedPayload)
}

func (s *RefresherTestSuite) TestHTTPRefresherNetworkError() {
	url := s.srv.URL
	s.srv.Close()
	_, err := NewHTTPRefresher(url, "/refresh", nil).Refresh(context.Background(), "r0")
	s.ErrorIs(err, types.ErrNetwork)
	s.srv = httptest.NewServer(http.NotFoundHandler())
}

func (s *RefresherTestSuite) TestOAuth2RefresherSuccess() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.NoError(r.ParseForm())
		s.Equal("refresh_token", r.PostForm.Get("grant_type"))
		s.Equal("r0", r.PostForm.Get("refresh_token"))
		w.Header().Set(types.ContentTypeHName, types.ContentTypeJSON)
		_, _ = w.Write([]byte(`{"access_token":"a1","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`))
	}
	r := NewOAuth2Refresher(types.OAuth2Config{
		TokenURL: s.srv.URL + "/token",
		ClientID: "tether",
	}, s.srv.Client())
	cred, err := r.Refresh(context.Background(), "r0")
	s.NoError(err)
	s.Equal(types.Credential{AccessToken: "a1", RefreshToken: "r1"}, cred)
}

func (s *RefresherTestSuite) TestOAuth2RefresherInvalidGrant() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(types.ContentTypeHName, types.ContentTypeJSON)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}
	r := NewOAuth2Refresher(types.OAuth2Config{TokenURL: s.srv.URL + "/token", ClientID: "tether"}, nil)
	_, err := r.Refresh(context.Background(), "r0")
	s.ErrorIs(err, types.ErrValidation)
	s.Equal("refresh token revoked", err.(*types.APIError).Message)
}

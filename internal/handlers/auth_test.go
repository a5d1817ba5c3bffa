package handlers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/handlers/testutil"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/services"
)

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)

	pair := env.Login(user.Email, testutil.DefaultPassword)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/verify", map[string]string{"token": pair.Access}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sessions int64
	require.NoError(t, env.DB.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&sessions).Error)
	require.EqualValues(t, 1, sessions)
}

func TestLoginIsCaseInsensitiveOnEmail(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(false)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/login", map[string]string{
		"email":    "  " + strings.ToUpper(user.Email) + " ",
		"password": testutil.DefaultPassword,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)

	cases := map[string]map[string]string{
		"wrong password": {"email": user.Email, "password": "not-the-password"},
		"unknown email":  {"email": "ghost@example.com", "password": testutil.DefaultPassword},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			w := env.Request(http.MethodPost, testutil.BasePath+"/auth/login", payload, "")
			require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

			resp := testutil.DecodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, "INVALID_CREDENTIALS", resp.Error.Code)
		})
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)
	require.NoError(t, env.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/login", map[string]string{
		"email":    user.Email,
		"password": testutil.DefaultPassword,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
}

func TestLoginValidationNamesField(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/login", map[string]string{"password": "x"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)
	require.Equal(t, "email", resp.Error.Field)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)
	pair := env.Login(user.Email, testutil.DefaultPassword)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/refresh", map[string]string{"refresh": pair.Refresh}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rotated testutil.TokenPair
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &rotated)
	require.NotEmpty(t, rotated.Access)
	require.NotEqual(t, pair.Refresh, rotated.Refresh)

	w = env.Request(http.MethodPost, testutil.BasePath+"/auth/refresh", map[string]string{"refresh": pair.Refresh}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "TOKEN_NOT_VALID", resp.Error.Code)
	require.Equal(t, "refresh", resp.Error.Field)
}

func TestBlacklistRevokesRefreshToken(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)
	pair := env.Login(user.Email, testutil.DefaultPassword)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/blacklist", map[string]string{"refresh": pair.Refresh}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, testutil.BasePath+"/auth/refresh", map[string]string{"refresh": pair.Refresh}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, testutil.BasePath+"/auth/blacklist", map[string]string{"refresh": pair.Refresh}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	var entries int64
	require.NoError(t, env.DB.Model(&models.AuditLog{}).Where("action = ?", services.AuditSessionBlacklisted).Count(&entries).Error)
	require.EqualValues(t, 1, entries)
}

func TestVerifyRejectsInvalidToken(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/verify", map[string]string{"token": "not-a-jwt"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "TOKEN_NOT_VALID", resp.Error.Code)
	require.Equal(t, "token", resp.Error.Field)
}

func TestAuthRoutesRequireOrganizationAPIKey(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(true)
	body := map[string]string{"email": user.Email, "password": testutil.DefaultPassword}

	cases := map[string]map[string]string{
		"missing": {},
		"unknown": {middleware.DefaultAPIKeyHeader: "tak_unknown.secret"},
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			w := env.RequestWithHeaders(http.MethodPost, testutil.BasePath+"/auth/login", body, headers)
			require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
			require.Equal(t, "API_KEY_REQUIRED", testutil.DecodeResponse(t, w).Error.Code)
		})
	}

	w := env.RequestWithHeaders(http.MethodPost, testutil.BasePath+"/auth/login", body, map[string]string{
		"Authorization": "Api-Key " + env.APIKey,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInvalidBearerTokenIsRejected(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, testutil.BasePath+"/auth/verify", map[string]string{"token": "x"}, "garbage")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	require.Equal(t, "UNAUTHORIZED", testutil.DecodeResponse(t, w).Error.Code)
}

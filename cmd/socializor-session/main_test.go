package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/session"
	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/storage"
	platformtesting "socializor-server-go/internal/platform/testing"
	httptransport "socializor-server-go/internal/transport/http"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := platformtesting.SetupTestLogger(t)

	db, err := storage.Open(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	users := storage.NewUserRepository(db)

	hash, err := auth.HashPassword("s3cret", auth.WithArgonTime(1), auth.WithArgonMemory(1024))
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), &user.Account{
		Profile:      user.Profile{Name: "una", Department: "Physics", Email: "una@example.com"},
		PasswordHash: hash,
	}))

	issuer, err := auth.NewIssuer(auth.StaticKeys{Private: platformtesting.RSAKey(t)}, auth.IssuerOptions{})
	require.NoError(t, err)

	cfg := platformtesting.SetupTestConfig(t)
	cfg.Log.Level = "info"
	router, err := httptransport.Build(httptransport.Options{
		Config:         cfg,
		Logger:         logger,
		AuthMiddleware: httptransport.AuthGate(issuer, logger.Tagged("AuthGate")),
	})
	require.NoError(t, err)
	httptransport.NewTokenHandler(issuer, users, logger.Tagged("Token")).RegisterRoutes(router)

	srv := httptest.NewServer(router.Engine)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/"
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "session:\n" +
		"  base_url: " + baseURL + "\n" +
		"  store:\n" +
		"    driver: memory\n" +
		"log:\n" +
		"  log_level: error\n" +
		"  log_dir: " + filepath.Join(dir, "logs") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"dance"}},
		{name: "unknown flag", args: []string{"--bogus", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, io.Discard, io.Discard)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_LoginRequiresCredentials(t *testing.T) {
	t.Setenv(EnvPassword, "")
	path := writeConfig(t, startServer(t))

	err := run(context.Background(), []string{"--config", path, "login"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_SessionCommands(t *testing.T) {
	path := writeConfig(t, startServer(t))
	t.Setenv(EnvPassword, "s3cret")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"--config", path,
		"--email", "una@example.com",
		"status", "login", "whoami", "refresh", "logout", "status",
	}, &out, io.Discard)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "not logged in")
	assert.Contains(t, text, "logged in, credential expires")
	assert.Contains(t, text, `"name": "una"`)
	assert.Contains(t, text, "credential not refreshed")
	assert.Contains(t, text, "logged out")
}

func TestRun_WrongPassword(t *testing.T) {
	path := writeConfig(t, startServer(t))

	err := run(context.Background(), []string{
		"--config", path, "--email", "una@example.com", "--password", "nope", "login",
	}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRun_WhoamiWithoutLogin(t *testing.T) {
	path := writeConfig(t, startServer(t))

	err := run(context.Background(), []string{"--config", path, "whoami"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, session.ErrNoToken)
}

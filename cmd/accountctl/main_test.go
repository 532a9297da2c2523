package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

func newTestApp(stdin string) (*app, *bytes.Buffer) {
	out := &bytes.Buffer{}
	store := repo.NewMemoryRepo(utilities.NewIDGenerator(11).Next)
	a := &app{
		svc:    account.NewService(store, account.BcryptHasher{Cost: bcrypt.MinCost}, nil),
		logger: zap.NewNop().Sugar(),
		in:     bufio.NewReader(strings.NewReader(stdin)),
		out:    out,
	}
	return a, out
}

func TestCLIRegisterShowLogin(t *testing.T) {
	a, out := newTestApp("pw\npw\nwrong\n")
	ctx := context.Background()

	require.NoError(t, a.run(ctx, []string{"register", "a@x.com"}))
	assert.Contains(t, out.String(), "a@x.com")
	assert.Contains(t, out.String(), "active (Active account)")

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"login", "a@x.com"}))
	assert.True(t, strings.HasPrefix(out.String(), "ok: "))

	err := a.run(ctx, []string{"login", "a@x.com"})
	assert.ErrorIs(t, err, account.ErrBadCredentials)
}

func TestCLIStatusEmailList(t *testing.T) {
	a, out := newTestApp("pw\n")
	ctx := context.Background()
	require.NoError(t, a.run(ctx, []string{"register", "a@x.com"}))

	accs, err := a.svc.ListAll(ctx)
	require.NoError(t, err)
	id := accs[0].ID

	require.NoError(t, a.run(ctx, []string{"status", id, "Suspended"}))
	require.NoError(t, a.run(ctx, []string{"email", id, "b@x.com"}))

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"list", "suspended"}))
	assert.Contains(t, out.String(), "b@x.com")

	out.Reset()
	require.NoError(t, a.run(ctx, []string{"show", "b@x.com"}))
	assert.Contains(t, out.String(), "suspended")

	assert.ErrorIs(t, a.run(ctx, []string{"status", id, "inactive"}), account.ErrInvalidTransition)
	assert.Error(t, a.run(ctx, []string{"status", id, "archived"}))
}

func TestCLIUsageErrors(t *testing.T) {
	a, _ := newTestApp("")
	ctx := context.Background()

	assert.ErrorIs(t, a.run(ctx, []string{"frobnicate"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"show"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"list", "a", "b"}), errUsage)
	assert.Error(t, a.run(ctx, []string{"migrate"}))
	// no secret on stdin
	assert.Error(t, a.run(ctx, []string{"register", "a@x.com"}))
}

func TestUsageWarnsMemoryStoreIsThrowaway(t *testing.T) {
	a, _ := newTestApp("")
	err := a.run(context.Background(), []string{"frobnicate"})
	require.ErrorIs(t, err, errUsage)
	assert.Contains(t, err.Error(), "-memory   use a throwaway in-process store")
	assert.Contains(t, err.Error(), "only for this\n            one invocation")
}

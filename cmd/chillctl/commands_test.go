package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newHashPasswordCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--cost", "4", "s3cret"})

	require.NoError(t, cmd.Execute())

	digest := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(digest), []byte("s3cret")))
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, 4, cost)
}

func TestHashPasswordCmd_RejectsBadCost(t *testing.T) {
	cmd := newHashPasswordCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--cost", "99", "s3cret"})

	assert.Error(t, cmd.Execute())
}

func TestIssueTokenCmd_RequiresUserID(t *testing.T) {
	cmd := newIssueTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	assert.ErrorContains(t, cmd.Execute(), "--user-id")
}

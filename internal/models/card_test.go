package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCardBalance(t *testing.T) {
	card := Card{Points: 3, MaxPoints: 10}
	require.Equal(t, "3/10", card.Balance())

	card = Card{Points: 0, MaxPoints: 8}
	require.Equal(t, "0/8", card.Balance())
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	require.Len(t, token, 64)

	other, err := GenerateToken()
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	user := User{PasswordHash: hash}
	require.True(t, user.CheckPassword("correct horse battery staple"))
	require.False(t, user.CheckPassword("wrong"))
}

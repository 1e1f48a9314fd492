package secureid

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^[a-z2-7]{26}$`)

func TestNew_Format(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id, err := New()
		require.NoError(t, err)
		assert.Regexp(t, idPattern, id)
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestClaim_RetriesOnCollision(t *testing.T) {
	candidates := []string{"taken", "taken", "free"}
	i := 0
	gen := func() (string, error) {
		id := candidates[i]
		i++
		return id, nil
	}

	var attempts []string
	id, err := Claim(gen, func(id string) (bool, error) {
		attempts = append(attempts, id)
		return id != "taken", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "free", id)
	assert.Equal(t, []string{"taken", "taken", "free"}, attempts)
}

func TestClaim_Exhausted(t *testing.T) {
	calls := 0
	_, err := Claim(func() (string, error) { return "same", nil }, func(string) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, MaxAttempts, calls)
}

func TestClaim_PropagatesErrors(t *testing.T) {
	genErr := errors.New("entropy")
	_, err := Claim(func() (string, error) { return "", genErr }, func(string) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, genErr)

	insertErr := errors.New("db down")
	_, err = Claim(nil, func(string) (bool, error) { return false, insertErr })
	assert.ErrorIs(t, err, insertErr)
}

package quotacache_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/parkerroan/quotacache"
	"github.com/stretchr/testify/assert"
)

func TestAPIErrorDiscrimination(t *testing.T) {
	err := &quotacache.APIError{StatusCode: 401, Message: "bad key"}

	assert.True(t, err.Unauthorized())
	assert.False(t, err.Forbidden())
	assert.False(t, err.ServerError())
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetching quota: %w", &quotacache.TransportError{Err: cause})

	var terr *quotacache.TransportError
	assert.True(t, errors.As(err, &terr))
	assert.True(t, errors.Is(err, cause))
}

package mongoutil

import (
	"context"
	"errors"
	"testing"

	"RoomGate/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateBuildsURI(t *testing.T) {
	c := &Config{Address: []string{"a:27017", "b:27017"}, Database: "chat", Username: "root", Password: "p@ss"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://root:p%40ss@a:27017,b:27017/chat?authSource=chat&maxPoolSize=100", c.Uri)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)

	c = &Config{Address: []string{"a:27017"}, Database: "chat", AuthSource: "admin", MaxPoolSize: 5}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://a:27017/chat?authSource=admin&maxPoolSize=5", c.Uri)

	c = &Config{Uri: "mongodb://x", Database: "chat"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://x", c.Uri)
}

func TestValidateRejects(t *testing.T) {
	err := (&Config{Database: "chat"}).ValidateAndSetDefaults()
	assert.True(t, errors.Is(err, errs.ErrArgs))
	err = (&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults()
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	assert.True(t, shouldRetry(ctx, errors.New("connection refused")))
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 18}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, shouldRetry(cancelled, errors.New("x")))
}

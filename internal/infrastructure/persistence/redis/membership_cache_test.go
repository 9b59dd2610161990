package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMembershipKey_IsPerBotPerChannel(t *testing.T) {
	k1 := MembershipKey(1, 100, 42)
	k2 := MembershipKey(2, 100, 42)
	assert.NotEqual(t, k1, k2, "same channel/user under a different bot must not collide")
	assert.Equal(t, "membership:1:100:42", k1)
}

func TestTTLFor_WithinJitterBounds(t *testing.T) {
	cases := []struct {
		verdict MembershipVerdict
		base    time.Duration
	}{
		{VerdictMember, ttlMember},
		{VerdictNonMember, ttlNonMember},
		{VerdictUnknownError, ttlUnknownError},
	}
	for _, c := range cases {
		got := ttlFor(c.verdict)
		lower := time.Duration(float64(c.base) * 0.9)
		upper := time.Duration(float64(c.base) * 1.1)
		assert.GreaterOrEqual(t, got, lower)
		assert.LessOrEqual(t, got, upper)
	}
}

func TestNullMembershipCache_AlwaysMisses(t *testing.T) {
	var c NullMembershipCache
	ctx := context.Background()

	_, ok := c.Get(ctx, 1, 2, 3)
	assert.False(t, ok)

	assert.NoError(t, c.Set(ctx, 1, 2, 3, VerdictMember))
	assert.NoError(t, c.Invalidate(ctx, 1, 2, 3))
	assert.NoError(t, c.InvalidateChannel(ctx, 1, 2))
}

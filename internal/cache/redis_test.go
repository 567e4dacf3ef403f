package cache

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew_UnreachableRedisReturnsNil(t *testing.T) {
	svc := New(zap.NewNop().Sugar(), "invalid-host:1", "", 0)
	if svc != nil {
		t.Error("expected nil service when redis is unreachable")
	}
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}

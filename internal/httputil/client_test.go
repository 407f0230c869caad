package httputil

import (
	"testing"
	"time"
)

func TestNewClient_Timeout(t *testing.T) {
	if got := NewClient(0).Timeout; got != DefaultTimeout {
		t.Errorf("NewClient(0).Timeout = %v, want %v", got, DefaultTimeout)
	}
	if got := NewClient(5 * time.Second).Timeout; got != 5*time.Second {
		t.Errorf("NewClient(5s).Timeout = %v, want 5s", got)
	}
}

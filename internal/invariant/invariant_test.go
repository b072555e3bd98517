//go:build !inflightdebug

package invariant

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

func TestCheck(t *testing.T) {
	if err := Check(true, "never"); err != nil {
		t.Fatalf("Check(true) = %v", err)
	}

	err := Check(false, "lane %s busy", gpu.LaneCompute)
	if err == nil {
		t.Fatal("Check(false) returned nil")
	}
	if !errors.Is(err, gpu.ErrInvalidState) {
		t.Errorf("error %v is not ErrInvalidState", err)
	}
	if got, want := err.Error(), "lane compute busy"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

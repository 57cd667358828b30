package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/sells-group/extract-trainer/internal/model"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError("anthropic", errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
	if err.Error() != "anthropic: server overloaded" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError("jina", errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("capture failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilAndRegular(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
	if IsTransient(errors.New("invalid input: missing field")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_Network(t *testing.T) {
	cases := []error{
		fmt.Errorf("write tcp: %w", syscall.ECONNRESET),
		fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED),
		&net.DNSError{IsTimeout: true, Err: "timeout"},
		errors.New("Post https://api: TLS handshake timeout"),
		errors.New("navigation: context deadline exceeded"),
	}
	for _, err := range cases {
		if !IsTransient(err) {
			t.Errorf("expected %v to be transient", err)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d not to be transient", code)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{NewTransientError("anthropic", errors.New("429"), 429), KindTransient},
		{fmt.Errorf("get: %w", &model.NotFoundError{Entity: "example", ID: "x"}), KindNotFound},
		{fmt.Errorf("list: %w", &model.StorageError{Op: "decode", Err: errors.New("bad")}), KindStorage},
		{errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSkippable(t *testing.T) {
	if Skippable(&model.StorageError{Op: "decode", Err: errors.New("bad")}) {
		t.Error("storage errors must abort")
	}
	if !Skippable(NewTransientError("jina", errors.New("timeout"), 0)) {
		t.Error("transient errors should be skippable")
	}
}

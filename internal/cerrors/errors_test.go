package cerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		err   error
		kind  Kind
		user  bool
		retry bool
	}{
		{"recoverable", Recoverable("connection unreachable", ErrCertificateValidation), KindRecoverable, false, true},
		{"user action", UserAction("not paired with this device", ErrNotPaired), KindUserAction, true, false},
		{"resource exhausted", ResourceExhausted("too many connections", ErrResourceExhausted), KindResourceExhausted, false, false},
		{"plain error has unknown kind", errors.New("boom"), KindUnknown, false, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.retry, IsRecoverable(tc.err))
			require.Equal(t, tc.user, RequiresUserAction(tc.err))
		})
	}
}

func TestUserMessageFallsBackForUnwrappedErrors(t *testing.T) {
	t.Parallel()
	require.Equal(t, "an unexpected error occurred", UserMessage(errors.New("some internal detail")))
	require.Equal(t, "not paired with this device", UserMessage(UserAction("not paired with this device", ErrNotPaired)))
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()
	wrapped := Recoverable("dial failed", ErrCertificateValidation)
	require.ErrorIs(t, wrapped, ErrCertificateValidation)
}
